package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgauth.dev/internal/ids"
)

// CreateInviteInput describes a new invitation. InvitedByUserID is empty when
// a platform operator issues the invite; ActorOperatorID then names them.
type CreateInviteInput struct {
	OrganizationID  string
	InvitedByUserID string
	ActorOperatorID string
	Email           string
	RoleName        string
	DisplayName     string
	TempPassword    string
	TTL             time.Duration
}

// InviteResult carries the stored invite and, only when the service generated
// it, the temporary password in plain text. It is not recoverable later.
type InviteResult struct {
	Invite       *Invite
	TempPassword string
}

type AcceptInviteInput struct {
	InviteID     string
	Email        string
	TempPassword string
	NewPassword  string
}

type AcceptResult struct {
	User       *User
	Membership *Membership
}

type inviteDraft struct {
	CreateInviteInput
	action      string
	ownerChecks bool
}

// CreateInvite issues a pending invitation to a system role of the organization.
func (s *Service) CreateInvite(ctx context.Context, in CreateInviteInput) (*InviteResult, error) {
	return s.createInvite(ctx, inviteDraft{CreateInviteInput: in, action: "invite.create"})
}

func (s *Service) createInvite(ctx context.Context, d inviteDraft) (*InviteResult, error) {
	d.Email = normalizeEmail(d.Email)
	d.RoleName = strings.TrimSpace(d.RoleName)
	if err := requireField("email", d.Email); err != nil {
		return nil, err
	}
	if !strings.Contains(d.Email, "@") {
		return nil, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	if err := requireField("roleName", d.RoleName); err != nil {
		return nil, err
	}
	ttl := d.TTL
	if ttl <= 0 {
		ttl = s.inviteTTL
	}
	if ttl > MaxInviteTTL {
		return nil, fmt.Errorf("%w: invite ttl exceeds %s", ErrInvalidInput, MaxInviteTTL)
	}

	plain := d.TempPassword
	generated := false
	if plain != "" {
		if err := checkPassword("tempPassword", plain); err != nil {
			return nil, err
		}
	} else {
		var err error
		if plain, err = s.genTemp(); err != nil {
			return nil, fmt.Errorf("generate temp password: %w", err)
		}
		generated = true
	}
	digest, err := s.hasher.Hash(plain)
	if err != nil {
		return nil, fmt.Errorf("hash temp password: %w", err)
	}

	var inv *Invite
	err = s.store.WithinTx(ctx, func(tx Repos) error {
		if _, err := tx.Organizations().Find(ctx, d.OrganizationID); err != nil {
			return err
		}
		role, err := tx.Roles().FindSystemRole(ctx, d.RoleName)
		if err != nil {
			return err
		}
		if d.ownerChecks {
			if err := ensureNoAccount(ctx, tx, d.Email, d.OrganizationID); err != nil {
				return err
			}
		}

		now := s.clock()
		inv = &Invite{
			ID:                 ids.NewEntity(),
			OrganizationID:     d.OrganizationID,
			Email:              d.Email,
			TempPasswordDigest: digest,
			RoleID:             role.ID,
			RoleName:           role.Name,
			DisplayName:        strings.TrimSpace(d.DisplayName),
			ExpiresAt:          now.Add(ttl),
			InvitedByUserID:    d.InvitedByUserID,
			Status:             InvitePending,
			CreatedAt:          now,
		}
		if err := tx.Invites().Create(ctx, inv); err != nil {
			return err
		}
		meta := map[string]any{"email": inv.Email, "role": role.Name}
		if d.ActorOperatorID != "" {
			meta["actorOperatorId"] = d.ActorOperatorID
		}
		return s.appendAudit(ctx, tx, AuditEntry{
			OrganizationID: inv.OrganizationID,
			ActorUserID:    d.InvitedByUserID,
			Action:         d.action,
			TargetType:     "invite",
			TargetID:       inv.ID,
			Meta:           meta,
		})
	})
	if err != nil {
		return nil, err
	}

	res := &InviteResult{Invite: inv}
	if generated {
		res.TempPassword = plain
	}
	return res, nil
}

func ensureNoAccount(ctx context.Context, tx Repos, email, orgID string) error {
	_, err := tx.Users().FindByEmail(ctx, email)
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = tx.Invites().FindPendingByEmailAndOrg(ctx, email, orgID)
	if err == nil {
		return ErrPendingInviteExists
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// AcceptInvite redeems an invitation with its temporary password and sets the
// account's real password.
func (s *Service) AcceptInvite(ctx context.Context, in AcceptInviteInput) (*AcceptResult, error) {
	if err := requireField("inviteId", in.InviteID); err != nil {
		return nil, err
	}
	if err := checkPassword("newPassword", in.NewPassword); err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var res AcceptResult
	err = s.withinSignupTx(ctx, func(tx Repos) error {
		inv, err := tx.Invites().Find(ctx, in.InviteID)
		if errors.Is(err, ErrNotFound) {
			return ErrInviteNotPending
		}
		if err != nil {
			return err
		}
		switch inv.StatusAt(s.clock()) {
		case InvitePending:
		case InviteExpired:
			return ErrInvitationExpired
		default:
			return ErrInviteNotPending
		}
		if normalizeEmail(in.Email) != inv.Email {
			return ErrInviteEmailMismatch
		}
		if !s.hasher.Verify(in.TempPassword, inv.TempPasswordDigest) {
			return ErrTempPasswordMismatch
		}
		res.User, res.Membership, err = s.redeemInvite(ctx, tx, inv, redemption{via: "accept", passwordDigest: digest})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// redemption distinguishes explicit acceptance, which installs a chosen
// password, from login with invite credentials, which keeps the temporary one.
type redemption struct {
	via            string
	passwordDigest string
}

// redeemInvite is the single PENDING -> ACCEPTED transition shared by login
// and explicit acceptance. The conditional status update runs first so a
// concurrent loser fails before touching users or memberships.
func (s *Service) redeemInvite(ctx context.Context, tx Repos, inv *Invite, r redemption) (*User, *Membership, error) {
	now := s.clock()
	if err := tx.Invites().MarkAccepted(ctx, inv.ID, now); err != nil {
		return nil, nil, err
	}

	user, err := tx.Users().FindByEmail(ctx, inv.Email)
	switch {
	case err == nil:
		if r.passwordDigest != "" {
			user.SetPassword(r.passwordDigest)
			if err := tx.Users().UpdateCredentials(ctx, user); err != nil {
				return nil, nil, err
			}
		}
	case errors.Is(err, ErrNotFound):
		user = s.newInvitedUser(inv, r, now)
		if err := tx.Users().Create(ctx, user); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	created, err := tx.Memberships().CreateIfAbsent(ctx, &Membership{
		ID:             ids.NewEntity(),
		OrganizationID: inv.OrganizationID,
		UserID:         user.ID,
		RoleID:         inv.RoleID,
		State:          MembershipActive,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, nil, err
	}
	membership, err := tx.Memberships().Find(ctx, inv.OrganizationID, user.ID)
	if err != nil {
		return nil, nil, err
	}

	err = s.appendAudit(ctx, tx, AuditEntry{
		OrganizationID: inv.OrganizationID,
		ActorUserID:    user.ID,
		Action:         "invite.accept",
		TargetType:     "invite",
		TargetID:       inv.ID,
		Meta:           map[string]any{"via": r.via, "membershipCreated": created},
	})
	if err != nil {
		return nil, nil, err
	}
	return user, membership, nil
}

func (s *Service) newInvitedUser(inv *Invite, r redemption, now time.Time) *User {
	u := &User{
		ID:          ids.NewEntity(),
		Email:       inv.Email,
		DisplayName: inv.DisplayName,
		CreatedAt:   now,
	}
	if u.DisplayName == "" {
		u.DisplayName, _, _ = strings.Cut(inv.Email, "@")
	}
	if r.passwordDigest != "" {
		u.PasswordDigest = r.passwordDigest
		return u
	}
	u.PasswordDigest = s.dummyHash
	u.TempPasswordDigest = inv.TempPasswordDigest
	u.MustChangePassword = true
	return u
}

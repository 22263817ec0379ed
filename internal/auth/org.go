package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"orgauth.dev/internal/ids"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// CreateOrgAsOwner creates an ACTIVE organization. The operator creating it
// does not become a member; ownership is granted through CreateOrgOwner.
func (s *Service) CreateOrgAsOwner(ctx context.Context, name, slug, operatorID string) (*Organization, error) {
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	if err := requireField("name", name); err != nil {
		return nil, err
	}
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: slug must be lowercase letters, digits and dashes", ErrInvalidInput)
	}

	var org *Organization
	err := s.store.WithinTx(ctx, func(tx Repos) error {
		_, err := tx.Organizations().FindBySlug(ctx, slug)
		if err == nil {
			return ErrSlugTaken
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		org = &Organization{
			ID:        ids.NewEntity(),
			Name:      name,
			Slug:      slug,
			Status:    OrgStatusActive,
			CreatedAt: s.clock(),
		}
		if err := tx.Organizations().Create(ctx, org); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, AuditEntry{
			OrganizationID: org.ID,
			Action:         "org.create",
			TargetType:     "organization",
			TargetID:       org.ID,
			Meta:           map[string]any{"slug": slug, "actorOperatorId": operatorID},
		})
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

type CreateOwnerInput struct {
	OrganizationID string
	OperatorID     string
	Email          string
	DisplayName    string
	TempPassword   string
}

// CreateOrgOwner invites the first owner of an organization. The account is
// created when the invite is redeemed and receives DisplayName. It fails when
// the email already has an account or a pending invite to the organization.
func (s *Service) CreateOrgOwner(ctx context.Context, in CreateOwnerInput) (*InviteResult, error) {
	return s.createInvite(ctx, inviteDraft{
		CreateInviteInput: CreateInviteInput{
			OrganizationID:  in.OrganizationID,
			ActorOperatorID: in.OperatorID,
			Email:           in.Email,
			RoleName:        RoleOwner,
			DisplayName:     in.DisplayName,
			TempPassword:    in.TempPassword,
		},
		action:      "org.owner_invite",
		ownerChecks: true,
	})
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token              string
	ExpiresAt          time.Time
	PrincipalID        string
	MustChangePassword bool
}

// Login authenticates an org user. When no account exists for email but a
// pending invite does, valid invite credentials provision the account and
// accept the invite in the same transaction.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	var user *User
	err := s.withinSignupTx(ctx, func(tx Repos) error {
		found, err := tx.Users().FindByEmail(ctx, email)
		switch {
		case err == nil:
			if !s.hasher.Verify(password, found.ActiveDigest()) {
				return ErrInvalidCredentials
			}
			user = found
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		inv, err := tx.Invites().FindPendingByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			return ErrInvalidCredentials
		}
		if err != nil {
			return err
		}
		if inv.StatusAt(s.clock()) == InviteExpired {
			return ErrInvitationExpired
		}
		if !s.hasher.Verify(password, inv.TempPasswordDigest) {
			return ErrInvalidCredentials
		}
		user, _, err = s.redeemInvite(ctx, tx, inv, redemption{via: "login"})
		return err
	})
	if err != nil {
		return LoginResult{}, err
	}

	token, exp, err := s.codec.IssueDefault(user.ID, user.Email, KindUser)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Token:              token,
		ExpiresAt:          exp,
		PrincipalID:        user.ID,
		MustChangePassword: user.MustChangePassword,
	}, nil
}

// OperatorLogin authenticates a platform operator.
func (s *Service) OperatorLogin(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	op, err := s.store.Operators().FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(password, s.dummyHash)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !s.hasher.Verify(password, op.PasswordDigest) {
		return LoginResult{}, ErrInvalidCredentials
	}
	token, exp, err := s.codec.IssueDefault(op.ID, op.Email, KindPlatform)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: exp, PrincipalID: op.ID}, nil
}

// Logout revokes token. It never fails: a missing or invalid token is simply
// recorded (or ignored) and a revocation backend error is only logged.
func (s *Service) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.revoked.Revoke(ctx, token); err != nil {
		s.log.Warn("token revocation failed", zap.Error(err))
	}
}

// ChangePassword replaces the user's credential after re-verifying current
// against the authoritative digest.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	if err := checkPassword("newPassword", next); err != nil {
		return err
	}
	digest, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.store.WithinTx(ctx, func(tx Repos) error {
		user, err := tx.Users().FindByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !s.hasher.Verify(current, user.ActiveDigest()) {
			return ErrCurrentPasswordIncorrect
		}
		user.SetPassword(digest)
		if err := tx.Users().UpdateCredentials(ctx, user); err != nil {
			return err
		}
		return s.appendAudit(ctx, tx, AuditEntry{
			ActorUserID: user.ID,
			Action:      "user.password_change",
			TargetType:  "user",
			TargetID:    user.ID,
		})
	})
}

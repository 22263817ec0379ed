package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orgauth.dev/internal/ids"
)

const defaultInviteTTL = 72 * time.Hour

// MaxInviteTTL bounds how long an invitation may stay redeemable.
const MaxInviteTTL = 365 * 24 * time.Hour

// Service implements login, invitation and organization provisioning on top
// of a transactional Store.
type Service struct {
	store     Store
	codec     *TokenCodec
	revoked   RevocationStore
	hasher    Hasher
	now       func() time.Time
	inviteTTL time.Duration
	genTemp   func() (string, error)
	log       *zap.Logger
	// dummyHash digests a random value nobody knows. It evens out timing for
	// unknown accounts and is the real-password placeholder of invited users.
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// WithInviteTTL sets the expiry applied when CreateInvite gets no TTL.
func WithInviteTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 || ttl > MaxInviteTTL {
			return fmt.Errorf("auth: invite ttl must be in (0, %s]", MaxInviteTTL)
		}
		s.inviteTTL = ttl
		return nil
	}
}

func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher is nil")
		}
		s.hasher = h
		return nil
	}
}

func WithTempPasswordGenerator(gen func() (string, error)) ServiceOption {
	return func(s *Service) error {
		if gen != nil {
			s.genTemp = gen
		}
		return nil
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service. store, codec and revoked are required.
func NewService(store Store, codec *TokenCodec, revoked RevocationStore, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil || revoked == nil {
		return nil, errors.New("auth: store, codec and revocation store are required")
	}
	s := &Service{
		store:     store,
		codec:     codec,
		revoked:   revoked,
		hasher:    BcryptHasher(0),
		now:       time.Now,
		inviteTTL: defaultInviteTTL,
		genTemp:   GenerateTempPassword,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	dummy, err := placeholderDigest(s.hasher)
	if err != nil {
		return nil, fmt.Errorf("auth: init dummy digest: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// EnsureSystemRoles creates the org-less OWNER, ADMIN and USER roles when missing.
func (s *Service) EnsureSystemRoles(ctx context.Context) error {
	return s.store.WithinTx(ctx, func(tx Repos) error {
		for _, def := range SystemRoles {
			_, err := tx.Roles().FindSystemRole(ctx, def.Name)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			role := def
			role.ID = ids.NewEntity()
			role.CreatedAt = s.clock()
			if err := tx.Roles().Create(ctx, &role); err != nil && !errors.Is(err, ErrConflict) {
				return fmt.Errorf("create role %s: %w", def.Name, err)
			}
		}
		return nil
	})
}

// Profile returns the user record behind an authenticated principal.
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.store.Users().Find(ctx, userID)
}

// MembershipsOf lists the organizations a user belongs to.
func (s *Service) MembershipsOf(ctx context.Context, userID string) ([]*Membership, error) {
	return s.store.Memberships().ListByUser(ctx, userID)
}

// withinSignupTx runs fn in a transaction that may create an account. When a
// concurrent request created the same account first, fn runs once more and
// then finds that account instead of creating it.
func (s *Service) withinSignupTx(ctx context.Context, fn func(Repos) error) error {
	err := s.store.WithinTx(ctx, fn)
	if errors.Is(err, ErrEmailTaken) {
		s.log.Info("account created concurrently, retrying", zap.Error(err))
		err = s.store.WithinTx(ctx, fn)
	}
	return err
}

func (s *Service) appendAudit(ctx context.Context, tx Repos, entry AuditEntry) error {
	entry.ID = ids.New()
	entry.CreatedAt = s.clock()
	if err := tx.Audit().Append(ctx, &entry); err != nil {
		return fmt.Errorf("append audit %s: %w", entry.Action, err)
	}
	return nil
}

// checkPassword rejects input the hasher cannot take, before any hashing or
// transaction starts.
func checkPassword(name, plain string) error {
	if err := requireField(name, plain); err != nil {
		return err
	}
	if len(plain) > MaxPasswordBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, name, MaxPasswordBytes)
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return nil
}

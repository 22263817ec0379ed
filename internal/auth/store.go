package auth

import (
	"context"
	"time"
)

// Store is the durable record store. Every service method runs its reads and
// writes inside one WithinTx call; returning an error rolls everything back.
type Store interface {
	Repos
	WithinTx(ctx context.Context, fn func(Repos) error) error
}

// Repos groups the per-entity repositories bound to one transaction (or to
// none, for plain reads).
type Repos interface {
	Users() UserStore
	Operators() OperatorStore
	Organizations() OrganizationStore
	Roles() RoleStore
	Memberships() MembershipStore
	Invites() InviteStore
	Audit() AuditStore
}

// UserStore manages org users. Lookups by email are case-insensitive.
type UserStore interface {
	// Create fails with ErrConflict when the email is taken.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateCredentials(ctx context.Context, u *User) error
}

type OperatorStore interface {
	FindByEmail(ctx context.Context, email string) (*Operator, error)
}

type OrganizationStore interface {
	// Create fails with ErrConflict when the slug is taken.
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
}

type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	// FindSystemRole resolves an org-less role by exact name.
	FindSystemRole(ctx context.Context, name string) (*Role, error)
}

type MembershipStore interface {
	// CreateIfAbsent inserts m unless (org, user) already has a membership.
	// It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, m *Membership) (bool, error)
	// Find returns the membership with RoleName populated.
	Find(ctx context.Context, orgID, userID string) (*Membership, error)
	ListByUser(ctx context.Context, userID string) ([]*Membership, error)
}

type InviteStore interface {
	Create(ctx context.Context, inv *Invite) error
	Find(ctx context.Context, id string) (*Invite, error)
	// FindPendingByEmail returns the most recently created pending invite.
	FindPendingByEmail(ctx context.Context, email string) (*Invite, error)
	FindPendingByEmailAndOrg(ctx context.Context, email, orgID string) (*Invite, error)
	// MarkAccepted transitions a PENDING invite. A missing or already
	// accepted invite yields ErrInviteNotPending.
	MarkAccepted(ctx context.Context, id string, at time.Time) error
}

type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

package auth

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"
)

// Guard is the authorization checkpoint for organization-scoped operations.
type Guard struct {
	memberships func() MembershipStore
	log         *zap.Logger
}

func NewGuard(repos Repos, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{memberships: repos.Memberships, log: log}
}

// RequireRole loads the user's membership in orgID and checks its role name
// against allowed. Missing membership and role mismatch both yield an
// *AccessError matching ErrForbidden.
func (g *Guard) RequireRole(ctx context.Context, userID, orgID string, allowed ...string) (*Membership, error) {
	m, err := g.memberships().Find(ctx, orgID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, g.deny(&AccessError{Reason: ReasonNotMember, OrganizationID: orgID, UserID: userID})
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains(allowed, m.RoleName) {
		return nil, g.deny(&AccessError{Reason: ReasonInsufficientRole, OrganizationID: orgID, UserID: userID, Role: m.RoleName})
	}
	return m, nil
}

// RequireKind rejects principals of the wrong namespace.
func (g *Guard) RequireKind(p Principal, kind PrincipalKind) error {
	if p.Kind != kind {
		return g.deny(&AccessError{Reason: ReasonWrongPrincipal, UserID: p.ID})
	}
	return nil
}

func (g *Guard) deny(e *AccessError) error {
	g.log.Info("access denied",
		zap.String("reason", e.Reason),
		zap.String("org_id", e.OrganizationID),
		zap.String("user_id", e.UserID),
		zap.String("role", e.Role),
	)
	return e
}

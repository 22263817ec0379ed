package auth

import (
	"context"
	"fmt"
	"time"
)

// Principal is the identity resolved from a verified, unrevoked bearer token.
type Principal struct {
	ID        string
	Email     string
	Kind      PrincipalKind
	ExpiresAt time.Time
}

// Authenticator turns a bearer token into a Principal.
type Authenticator struct {
	codec   *TokenCodec
	revoked RevocationStore
}

func NewAuthenticator(codec *TokenCodec, revoked RevocationStore) *Authenticator {
	return &Authenticator{codec: codec, revoked: revoked}
}

// Authenticate verifies token and rejects it when revoked. Revocation lookup
// failures are returned as-is so callers can tell them from bad tokens.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := a.codec.Verify(token)
	if err != nil {
		return Principal{}, err
	}
	if a.revoked != nil {
		revoked, err := a.revoked.IsRevoked(ctx, token)
		if err != nil {
			return Principal{}, fmt.Errorf("revocation check: %w", err)
		}
		if revoked {
			return Principal{}, ErrInvalidToken
		}
	}
	return Principal{
		ID:        claims.Subject,
		Email:     claims.Email,
		Kind:      claims.Kind,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

type ctxKey int

const principalKey ctxKey = iota

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

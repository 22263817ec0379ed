package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "orgauth"
	defaultTokenTTL = time.Hour

	// MinSecretLength is the shortest HMAC secret accepted by NewTokenCodec.
	MinSecretLength = 32
)

// Claims is the JWT payload carried by access tokens.
type Claims struct {
	Email string        `json:"email"`
	Kind  PrincipalKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenClaims is the verified view of an access token.
type TokenClaims struct {
	Subject   string
	Email     string
	Kind      PrincipalKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 access tokens.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type CodecOption func(*TokenCodec) error

func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("auth: issuer must not be empty")
		}
		c.issuer = issuer
		return nil
	}
}

// WithTTL sets the lifetime used by IssueDefault for both principal kinds.
func WithTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if ttl <= 0 {
			return errors.New("auth: token ttl must be positive")
		}
		c.ttl = ttl
		return nil
	}
}

func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// NewTokenCodec builds a codec keyed by secret.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", MinSecretLength)
	}
	c := &TokenCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Issue signs a token for the principal valid for ttl.
func (c *TokenCodec) Issue(subject, email string, kind PrincipalKind, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if !kind.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: unknown principal kind %q", kind)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: ttl must be greater than zero")
	}

	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := Claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueDefault signs a token with the configured TTL.
func (c *TokenCodec) IssueDefault(subject, email string, kind PrincipalKind) (string, time.Time, error) {
	return c.Issue(subject, email, kind, c.ttl)
}

// Verify checks signature, issuer and expiry. Every failure is ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (TokenClaims, error) {
	claims, err := c.parse(token,
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return TokenClaims{}, ErrInvalidToken
	}
	if !claims.Kind.Valid() || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return TokenClaims{}, ErrInvalidToken
	}
	return TokenClaims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Kind:      claims.Kind,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ExpiresAt returns the embedded expiry of a correctly signed token, whether or
// not it has already passed.
func (c *TokenCodec) ExpiresAt(token string) (time.Time, error) {
	claims, err := c.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return time.Time{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrInvalidToken
	}
	return claims.ExpiresAt.Time, nil
}

func (c *TokenCodec) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

package auth

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Hasher is the one-way credential hashing capability used by the services.
type Hasher interface {
	Hash(plain string) (string, error)
	// Verify reports whether plain matches digest. Malformed digests yield false.
	Verify(plain, digest string) bool
}

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

type bcryptHasher struct {
	cost int
}

// BcryptHasher returns a Hasher using bcrypt with the given work factor.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func BcryptHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return bcryptHasher{cost: cost}
}

func (h bcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if len(plain) > MaxPasswordBytes {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, MaxPasswordBytes)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

func (h bcryptHasher) Verify(plain, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// placeholderDigest hashes a random value nobody knows. It stands in for the
// real password of accounts that only hold a temporary credential.
func placeholderDigest(h Hasher) (string, error) {
	return h.Hash(uuid.NewString())
}

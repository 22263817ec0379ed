package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier used for request ids and
// audit rows.
func New() string {
	return ulid.Make().String()
}

// NewEntity returns a random UUID for persisted entities (users, orgs, invites).
func NewEntity() string {
	return uuid.NewString()
}

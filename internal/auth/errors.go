package auth

import (
	"errors"
	"fmt"
)

// Outcome kinds. Every service failure wraps exactly one of these.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidToken       = errors.New("invalid token")
)

type codedError struct {
	kind error
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Unwrap() error { return e.kind }

func newCoded(kind error, msg string) error {
	return &codedError{kind: kind, msg: msg}
}

var (
	ErrUserNotFound             = newCoded(ErrNotFound, "user not found")
	ErrRoleNotFound             = newCoded(ErrNotFound, "role not found")
	ErrOrgNotFound              = newCoded(ErrNotFound, "organization not found")
	ErrInviteNotPending         = newCoded(ErrNotFound, "invite not found or not pending")
	ErrSlugTaken                = newCoded(ErrConflict, "slug already exists")
	ErrEmailTaken               = newCoded(ErrConflict, "user with this email already exists")
	ErrPendingInviteExists      = newCoded(ErrConflict, "pending invite already exists for this email")
	ErrInviteEmailMismatch      = newCoded(ErrInvalidCredentials, "email does not match invite")
	ErrTempPasswordMismatch     = newCoded(ErrInvalidCredentials, "temporary password is incorrect")
	ErrCurrentPasswordIncorrect = newCoded(ErrInvalidCredentials, "current password is incorrect")
)

// Access denial reasons. They are logged but never returned to callers verbatim.
const (
	ReasonNotMember        = "not_member"
	ReasonInsufficientRole = "insufficient_role"
	ReasonWrongPrincipal   = "wrong_principal"
)

// AccessError is the single forbidden outcome produced by the guard.
type AccessError struct {
	Reason         string
	OrganizationID string
	UserID         string
	Role           string
}

func (e *AccessError) Error() string {
	switch e.Reason {
	case ReasonNotMember:
		return "not a member of this organization"
	case ReasonInsufficientRole:
		return "insufficient role"
	case ReasonWrongPrincipal:
		return "principal kind not allowed"
	default:
		return fmt.Sprintf("access denied (%s)", e.Reason)
	}
}

func (e *AccessError) Is(target error) bool {
	return target == ErrForbidden
}

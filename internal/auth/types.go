package auth

import (
	"fmt"
	"strings"
	"time"
)

// PrincipalKind discriminates the two namespaces of authenticated identities.
type PrincipalKind string

const (
	KindUser     PrincipalKind = "USER"
	KindPlatform PrincipalKind = "PLATFORM"
)

func (k PrincipalKind) Valid() bool {
	return k == KindUser || k == KindPlatform
}

// System role names. Roles with an empty OrganizationID are shared by all organizations.
const (
	RoleOwner = "OWNER"
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// SystemRoles lists the org-less roles created by EnsureSystemRoles.
var SystemRoles = []Role{
	{Name: RoleOwner, Description: "Full control of the organization"},
	{Name: RoleAdmin, Description: "Manages members and invitations"},
	{Name: RoleUser, Description: "Regular member"},
}

const OrgStatusActive = "ACTIVE"

type MembershipState string

const MembershipActive MembershipState = "ACTIVE"

// InviteStatus is the persisted state of an invitation. Expiry is derived from
// time and never stored.
type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteExpired  InviteStatus = "EXPIRED"
)

// User is an organization member account.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	PasswordDigest     string    `json:"-"`
	TempPasswordDigest string    `json:"-"`
	MustChangePassword bool      `json:"mustChangePassword"`
	DisplayName        string    `json:"displayName"`
	CreatedAt          time.Time `json:"createdAt"`
}

// ActiveDigest returns the digest a presented password must match: the
// temporary one while a password change is pending, the real one otherwise.
func (u *User) ActiveDigest() string {
	if u.MustChangePassword && u.TempPasswordDigest != "" {
		return u.TempPasswordDigest
	}
	return u.PasswordDigest
}

// SetPassword installs a user-chosen password and drops any temporary credential.
func (u *User) SetPassword(digest string) {
	u.PasswordDigest = digest
	u.TempPasswordDigest = ""
	u.MustChangePassword = false
}

type Operator struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordDigest string    `json:"-"`
	DisplayName    string    `json:"displayName"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Membership binds one user to one organization with one role.
type Membership struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	UserID         string          `json:"userId"`
	RoleID         string          `json:"roleId"`
	RoleName       string          `json:"roleName"`
	State          MembershipState `json:"state"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Invite is a pending offer of membership redeemable once with its temporary credential.
type Invite struct {
	ID                 string       `json:"id"`
	OrganizationID     string       `json:"organizationId"`
	Email              string       `json:"email"`
	TempPasswordDigest string       `json:"-"`
	RoleID             string       `json:"roleId"`
	RoleName           string       `json:"roleName"`
	DisplayName        string       `json:"displayName,omitempty"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	InvitedByUserID    string       `json:"invitedByUserId,omitempty"`
	AcceptedAt         *time.Time   `json:"acceptedAt,omitempty"`
	Status             InviteStatus `json:"status"`
	CreatedAt          time.Time    `json:"createdAt"`
}

// Expired reports whether the invite deadline has passed at now.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// StatusAt reports the effective status, deriving EXPIRED for stale pending invites.
func (i *Invite) StatusAt(now time.Time) InviteStatus {
	if i.Status == InvitePending && i.Expired(now) {
		return InviteExpired
	}
	return i.Status
}

// Accept moves a pending invite to ACCEPTED. Any other transition is rejected.
func (i *Invite) Accept(at time.Time) error {
	if i.Status != InvitePending {
		return fmt.Errorf("%w: invite is %s", ErrInviteNotPending, strings.ToLower(string(i.Status)))
	}
	i.Status = InviteAccepted
	accepted := at
	i.AcceptedAt = &accepted
	return nil
}

// AuditEntry is an append-only record of a state change.
type AuditEntry struct {
	ID             string
	OrganizationID string
	ActorUserID    string
	Action         string
	TargetType     string
	TargetID       string
	Meta           map[string]any
	CreatedAt      time.Time
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

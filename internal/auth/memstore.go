package auth

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"orgauth.dev/internal/ids"
)

// MemoryStore is a transactional in-memory Store for development and tests.
// Transactions are serialized and work on a copy of the state that replaces
// the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users       map[string]User
	operators   map[string]Operator
	orgs        map[string]Organization
	roles       map[string]Role
	memberships map[string]Membership
	invites     map[string]Invite
	inviteSeq   map[string]int64
	audit       []AuditEntry
	seq         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		users:       map[string]User{},
		operators:   map[string]Operator{},
		orgs:        map[string]Organization{},
		roles:       map[string]Role{},
		memberships: map[string]Membership{},
		invites:     map[string]Invite{},
		inviteSeq:   map[string]int64{},
	}}
}

func (st *memState) clone() *memState {
	return &memState{
		users:       maps.Clone(st.users),
		operators:   maps.Clone(st.operators),
		orgs:        maps.Clone(st.orgs),
		roles:       maps.Clone(st.roles),
		memberships: maps.Clone(st.memberships),
		invites:     maps.Clone(st.invites),
		inviteSeq:   maps.Clone(st.inviteSeq),
		audit:       slices.Clone(st.audit),
		seq:         st.seq,
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.state.clone()
	if err := fn(memRepos{tx: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx
	return nil
}

// SeedOperator inserts a platform operator. Operators are provisioned out of
// band; this exists for dev mode and tests.
func (s *MemoryStore) SeedOperator(op Operator) Operator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.ID == "" {
		op.ID = ids.NewEntity()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.Email = normalizeEmail(op.Email)
	s.state.operators[op.ID] = op
	return op
}

// AuditEntries returns a copy of the audit trail.
func (s *MemoryStore) AuditEntries() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.audit)
}

func (s *MemoryStore) Users() UserStore                 { return s.repos().Users() }
func (s *MemoryStore) Operators() OperatorStore         { return s.repos().Operators() }
func (s *MemoryStore) Organizations() OrganizationStore { return s.repos().Organizations() }
func (s *MemoryStore) Roles() RoleStore                 { return s.repos().Roles() }
func (s *MemoryStore) Memberships() MembershipStore     { return s.repos().Memberships() }
func (s *MemoryStore) Invites() InviteStore             { return s.repos().Invites() }
func (s *MemoryStore) Audit() AuditStore                { return s.repos().Audit() }

func (s *MemoryStore) repos() memRepos { return memRepos{store: s} }

// memRepos operates either on a transaction's private state (tx) or, outside
// a transaction, on the live state under the store lock.
type memRepos struct {
	store *MemoryStore
	tx    *memState
}

func (r memRepos) Users() UserStore                 { return memUsers{r} }
func (r memRepos) Operators() OperatorStore         { return memOperators{r} }
func (r memRepos) Organizations() OrganizationStore { return memOrgs{r} }
func (r memRepos) Roles() RoleStore                 { return memRoles{r} }
func (r memRepos) Memberships() MembershipStore     { return memMemberships{r} }
func (r memRepos) Invites() InviteStore             { return memInvites{r} }
func (r memRepos) Audit() AuditStore                { return memAudit{r} }

func (r memRepos) read(fn func(st *memState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fn(r.store.state)
}

// write applies fn directly to live state outside a transaction. Callers that
// need atomicity across several writes use WithinTx.
func (r memRepos) write(fn func(st *memState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

type memUsers struct{ memRepos }

func (m memUsers) Create(_ context.Context, u *User) error {
	return m.write(func(st *memState) error {
		email := normalizeEmail(u.Email)
		for _, existing := range st.users {
			if existing.Email == email {
				return ErrEmailTaken
			}
		}
		if u.ID == "" {
			u.ID = ids.NewEntity()
		}
		u.Email = email
		st.users[u.ID] = *u
		return nil
	})
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	var out *User
	err := m.read(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return ErrUserNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	email = normalizeEmail(email)
	var out *User
	err := m.read(func(st *memState) error {
		for _, u := range st.users {
			if u.Email == email {
				out = &u
				return nil
			}
		}
		return ErrUserNotFound
	})
	return out, err
}

func (m memUsers) UpdateCredentials(_ context.Context, u *User) error {
	return m.write(func(st *memState) error {
		cur, ok := st.users[u.ID]
		if !ok {
			return ErrUserNotFound
		}
		cur.PasswordDigest = u.PasswordDigest
		cur.TempPasswordDigest = u.TempPasswordDigest
		cur.MustChangePassword = u.MustChangePassword
		st.users[u.ID] = cur
		return nil
	})
}

type memOperators struct{ memRepos }

func (m memOperators) FindByEmail(_ context.Context, email string) (*Operator, error) {
	email = normalizeEmail(email)
	var out *Operator
	err := m.read(func(st *memState) error {
		for _, op := range st.operators {
			if op.Email == email {
				out = &op
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

type memOrgs struct{ memRepos }

func (m memOrgs) Create(_ context.Context, org *Organization) error {
	return m.write(func(st *memState) error {
		for _, existing := range st.orgs {
			if existing.Slug == org.Slug {
				return ErrSlugTaken
			}
		}
		if org.ID == "" {
			org.ID = ids.NewEntity()
		}
		st.orgs[org.ID] = *org
		return nil
	})
}

func (m memOrgs) Find(_ context.Context, id string) (*Organization, error) {
	var out *Organization
	err := m.read(func(st *memState) error {
		org, ok := st.orgs[id]
		if !ok {
			return ErrOrgNotFound
		}
		out = &org
		return nil
	})
	return out, err
}

func (m memOrgs) FindBySlug(_ context.Context, slug string) (*Organization, error) {
	var out *Organization
	err := m.read(func(st *memState) error {
		for _, org := range st.orgs {
			if org.Slug == slug {
				out = &org
				return nil
			}
		}
		return ErrOrgNotFound
	})
	return out, err
}

type memRoles struct{ memRepos }

func (m memRoles) Create(_ context.Context, role *Role) error {
	return m.write(func(st *memState) error {
		for _, existing := range st.roles {
			if existing.OrganizationID == role.OrganizationID && existing.Name == role.Name {
				return ErrConflict
			}
		}
		if role.ID == "" {
			role.ID = ids.NewEntity()
		}
		st.roles[role.ID] = *role
		return nil
	})
}

func (m memRoles) FindSystemRole(_ context.Context, name string) (*Role, error) {
	var out *Role
	err := m.read(func(st *memState) error {
		for _, role := range st.roles {
			if role.OrganizationID == "" && role.Name == name {
				out = &role
				return nil
			}
		}
		return ErrRoleNotFound
	})
	return out, err
}

type memMemberships struct{ memRepos }

func (m memMemberships) CreateIfAbsent(_ context.Context, mem *Membership) (bool, error) {
	inserted := false
	err := m.write(func(st *memState) error {
		for _, existing := range st.memberships {
			if existing.OrganizationID == mem.OrganizationID && existing.UserID == mem.UserID {
				return nil
			}
		}
		if mem.ID == "" {
			mem.ID = ids.NewEntity()
		}
		st.memberships[mem.ID] = *mem
		inserted = true
		return nil
	})
	return inserted, err
}

func (m memMemberships) Find(_ context.Context, orgID, userID string) (*Membership, error) {
	var out *Membership
	err := m.read(func(st *memState) error {
		for _, mem := range st.memberships {
			if mem.OrganizationID == orgID && mem.UserID == userID {
				mem.RoleName = st.roles[mem.RoleID].Name
				out = &mem
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (m memMemberships) ListByUser(_ context.Context, userID string) ([]*Membership, error) {
	var out []*Membership
	err := m.read(func(st *memState) error {
		for _, mem := range st.memberships {
			if mem.UserID == userID {
				mem.RoleName = st.roles[mem.RoleID].Name
				out = append(out, &mem)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *Membership) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, err
}

type memInvites struct{ memRepos }

func (m memInvites) Create(_ context.Context, inv *Invite) error {
	return m.write(func(st *memState) error {
		if inv.ID == "" {
			inv.ID = ids.NewEntity()
		}
		inv.Email = normalizeEmail(inv.Email)
		st.seq++
		st.inviteSeq[inv.ID] = st.seq
		st.invites[inv.ID] = *inv
		return nil
	})
}

func (m memInvites) Find(_ context.Context, id string) (*Invite, error) {
	var out *Invite
	err := m.read(func(st *memState) error {
		inv, ok := st.invites[id]
		if !ok {
			return ErrInviteNotPending
		}
		inv.RoleName = st.roles[inv.RoleID].Name
		out = &inv
		return nil
	})
	return out, err
}

func (m memInvites) FindPendingByEmail(ctx context.Context, email string) (*Invite, error) {
	return m.latestPending(normalizeEmail(email), "")
}

func (m memInvites) FindPendingByEmailAndOrg(ctx context.Context, email, orgID string) (*Invite, error) {
	return m.latestPending(normalizeEmail(email), orgID)
}

func (m memInvites) latestPending(email, orgID string) (*Invite, error) {
	var out *Invite
	err := m.read(func(st *memState) error {
		var best int64 = -1
		for id, inv := range st.invites {
			if inv.Status != InvitePending || inv.Email != email {
				continue
			}
			if orgID != "" && inv.OrganizationID != orgID {
				continue
			}
			if seq := st.inviteSeq[id]; seq > best {
				best = seq
				inv.RoleName = st.roles[inv.RoleID].Name
				found := inv
				out = &found
			}
		}
		if out == nil {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

func (m memInvites) MarkAccepted(_ context.Context, id string, at time.Time) error {
	return m.write(func(st *memState) error {
		inv, ok := st.invites[id]
		if !ok {
			return ErrInviteNotPending
		}
		if err := inv.Accept(at); err != nil {
			return err
		}
		st.invites[id] = inv
		return nil
	})
}

type memAudit struct{ memRepos }

func (m memAudit) Append(_ context.Context, entry *AuditEntry) error {
	return m.write(func(st *memState) error {
		if entry.ID == "" {
			entry.ID = ids.New()
		}
		e := *entry
		e.Meta = maps.Clone(entry.Meta)
		st.audit = append(st.audit, e)
		return nil
	})
}

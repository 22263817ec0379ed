package pg

import (
	"context"
	"database/sql"
	"time"

	"orgauth.dev/internal/auth"
)

type roles struct{ q querier }

func (r roles) Create(ctx context.Context, role *auth.Role) error {
	res, err := r.q.ExecContext(ctx, `
		insert into roles(id, org_id, name, description, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict do nothing
	`, role.ID, nullIfEmpty(role.OrganizationID), role.Name, role.Description, role.CreatedAt)
	if err != nil {
		return writeErr(err)
	}
	if !inserted(res) {
		return auth.ErrConflict
	}
	return nil
}

func (r roles) FindSystemRole(ctx context.Context, name string) (*auth.Role, error) {
	return r.scan(r.q.QueryRowContext(ctx, `
		select id, org_id, name, description, created_at from roles where org_id is null and name = $1
	`, name))
}

func (roles) scan(row *sql.Row) (*auth.Role, error) {
	var (
		role  auth.Role
		orgID sql.NullString
	)
	if err := row.Scan(&role.ID, &orgID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
		return nil, notFound(err, auth.ErrRoleNotFound)
	}
	role.OrganizationID = orgID.String
	return &role, nil
}

type memberships struct{ q querier }

func (m memberships) CreateIfAbsent(ctx context.Context, mem *auth.Membership) (bool, error) {
	res, err := m.q.ExecContext(ctx, `
		insert into org_memberships(id, org_id, user_id, role_id, state, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (org_id, user_id) do nothing
	`, mem.ID, mem.OrganizationID, mem.UserID, mem.RoleID, string(mem.State), mem.CreatedAt)
	if err != nil {
		return false, writeErr(err)
	}
	return inserted(res), nil
}

const membershipSelect = `
	select m.id, m.org_id, m.user_id, m.role_id, r.name, m.state, m.created_at
	from org_memberships m
	join roles r on r.id = m.role_id
`

func (m memberships) Find(ctx context.Context, orgID, userID string) (*auth.Membership, error) {
	var mem auth.Membership
	err := m.q.QueryRowContext(ctx, membershipSelect+`where m.org_id = $1 and m.user_id = $2`, orgID, userID).
		Scan(&mem.ID, &mem.OrganizationID, &mem.UserID, &mem.RoleID, &mem.RoleName, &mem.State, &mem.CreatedAt)
	if err != nil {
		return nil, notFound(err, auth.ErrNotFound)
	}
	return &mem, nil
}

func (m memberships) ListByUser(ctx context.Context, userID string) ([]*auth.Membership, error) {
	rows, err := m.q.QueryContext(ctx, membershipSelect+`where m.user_id = $1 order by m.created_at`, userID)
	if err != nil {
		return nil, notFound(err, auth.ErrNotFound)
	}
	defer rows.Close()

	var out []*auth.Membership
	for rows.Next() {
		var mem auth.Membership
		if err := rows.Scan(&mem.ID, &mem.OrganizationID, &mem.UserID, &mem.RoleID, &mem.RoleName, &mem.State, &mem.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &mem)
	}
	return out, rows.Err()
}

type invites struct{ q querier }

const inviteSelect = `
	select i.id, i.org_id, i.email, i.temp_password_digest, i.role_id, r.name, i.display_name,
	       i.expires_at, i.invited_by_user_id, i.accepted_at, i.status, i.created_at
	from invites i
	join roles r on r.id = i.role_id
`

func (v invites) Create(ctx context.Context, inv *auth.Invite) error {
	_, err := v.q.ExecContext(ctx, `
		insert into invites(id, org_id, email, temp_password_digest, role_id, display_name,
		                    expires_at, invited_by_user_id, status, created_at)
		values ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, $10)
	`, inv.ID, inv.OrganizationID, inv.Email, inv.TempPasswordDigest, inv.RoleID, inv.DisplayName,
		inv.ExpiresAt, nullIfEmpty(inv.InvitedByUserID), string(inv.Status), inv.CreatedAt)
	return writeErr(err)
}

func (v invites) Find(ctx context.Context, id string) (*auth.Invite, error) {
	return scanInvite(v.q.QueryRowContext(ctx, inviteSelect+`where i.id = $1`, id), auth.ErrInviteNotPending)
}

func (v invites) FindPendingByEmail(ctx context.Context, email string) (*auth.Invite, error) {
	return scanInvite(v.q.QueryRowContext(ctx, inviteSelect+`
		where lower(i.email) = lower($1) and i.status = $2
		order by i.created_at desc
		limit 1
	`, email, inviteStatusPendingSQL), auth.ErrNotFound)
}

func (v invites) FindPendingByEmailAndOrg(ctx context.Context, email, orgID string) (*auth.Invite, error) {
	return scanInvite(v.q.QueryRowContext(ctx, inviteSelect+`
		where lower(i.email) = lower($1) and i.org_id = $2 and i.status = $3
		order by i.created_at desc
		limit 1
	`, email, orgID, inviteStatusPendingSQL), auth.ErrNotFound)
}

// MarkAccepted is a status-guarded update; a concurrent winner leaves zero
// affected rows for everyone else.
func (v invites) MarkAccepted(ctx context.Context, id string, at time.Time) error {
	res, err := v.q.ExecContext(ctx, `
		update invites set status = 'ACCEPTED', accepted_at = $2
		where id = $1 and status = 'PENDING'
	`, id, at)
	if err != nil {
		return notFound(err, auth.ErrInviteNotPending)
	}
	if !inserted(res) {
		return auth.ErrInviteNotPending
	}
	return nil
}

func scanInvite(row *sql.Row, missing error) (*auth.Invite, error) {
	var (
		inv       auth.Invite
		invitedBy sql.NullString
		accepted  sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.TempPasswordDigest, &inv.RoleID, &inv.RoleName,
		&inv.DisplayName, &inv.ExpiresAt, &invitedBy, &accepted, &inv.Status, &inv.CreatedAt)
	if err != nil {
		return nil, notFound(err, missing)
	}
	inv.InvitedByUserID = invitedBy.String
	if accepted.Valid {
		t := accepted.Time
		inv.AcceptedAt = &t
	}
	return &inv, nil
}

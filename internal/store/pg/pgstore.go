package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"orgauth.dev/internal/auth"
)

const (
	pgErrUniqueViolation   = "23505"
	pgErrInvalidTextRepr   = "22P02"
	inviteStatusPendingSQL = "PENDING"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres implementation of auth.Store.
type Store struct {
	repos
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{repos: repos{q: db}, db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithinTx runs fn in a READ COMMITTED transaction. Concurrency-sensitive
// writes rely on conditional updates and "on conflict do nothing" rather than
// on isolation level.
func (s *Store) WithinTx(ctx context.Context, fn func(auth.Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(repos{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type repos struct {
	q querier
}

func (r repos) Users() auth.UserStore                 { return users{r.q} }
func (r repos) Operators() auth.OperatorStore         { return operators{r.q} }
func (r repos) Organizations() auth.OrganizationStore { return organizations{r.q} }
func (r repos) Roles() auth.RoleStore                 { return roles{r.q} }
func (r repos) Memberships() auth.MembershipStore     { return memberships{r.q} }
func (r repos) Invites() auth.InviteStore             { return invites{r.q} }
func (r repos) Audit() auth.AuditStore                { return audit{r.q} }

type users struct{ q querier }

const userColumns = `id, email, password_digest, temp_password_digest, must_change_password, display_name, created_at`

func (u users) Create(ctx context.Context, user *auth.User) error {
	res, err := u.q.ExecContext(ctx, `
		insert into users(id, email, password_digest, temp_password_digest, must_change_password, display_name, created_at)
		values ($1, lower($2), $3, $4, $5, $6, $7)
		on conflict do nothing
	`, user.ID, user.Email, user.PasswordDigest, nullIfEmpty(user.TempPasswordDigest), user.MustChangePassword, user.DisplayName, user.CreatedAt)
	if err != nil {
		return writeErr(err)
	}
	if !inserted(res) {
		return auth.ErrEmailTaken
	}
	return nil
}

func (u users) Find(ctx context.Context, id string) (*auth.User, error) {
	row := u.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	user, err := scanUser(row)
	return user, notFound(err, auth.ErrUserNotFound)
}

func (u users) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := u.q.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, strings.TrimSpace(email))
	user, err := scanUser(row)
	return user, notFound(err, auth.ErrUserNotFound)
}

func (u users) UpdateCredentials(ctx context.Context, user *auth.User) error {
	res, err := u.q.ExecContext(ctx, `
		update users
		set password_digest = $2, temp_password_digest = $3, must_change_password = $4
		where id = $1
	`, user.ID, user.PasswordDigest, nullIfEmpty(user.TempPasswordDigest), user.MustChangePassword)
	if err != nil {
		return err
	}
	if !inserted(res) {
		return auth.ErrUserNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		user auth.User
		temp sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordDigest, &temp, &user.MustChangePassword, &user.DisplayName, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.TempPasswordDigest = temp.String
	return &user, nil
}

type operators struct{ q querier }

func (o operators) FindByEmail(ctx context.Context, email string) (*auth.Operator, error) {
	var op auth.Operator
	err := o.q.QueryRowContext(ctx, `
		select id, email, password_digest, display_name, created_at
		from platform_operators
		where lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&op.ID, &op.Email, &op.PasswordDigest, &op.DisplayName, &op.CreatedAt)
	if err != nil {
		return nil, notFound(err, auth.ErrNotFound)
	}
	return &op, nil
}

type organizations struct{ q querier }

func (o organizations) Create(ctx context.Context, org *auth.Organization) error {
	res, err := o.q.ExecContext(ctx, `
		insert into organizations(id, name, slug, status, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict do nothing
	`, org.ID, org.Name, org.Slug, org.Status, org.CreatedAt)
	if err != nil {
		return writeErr(err)
	}
	if !inserted(res) {
		return auth.ErrSlugTaken
	}
	return nil
}

func (o organizations) Find(ctx context.Context, id string) (*auth.Organization, error) {
	return o.findBy(ctx, "id", id)
}

func (o organizations) FindBySlug(ctx context.Context, slug string) (*auth.Organization, error) {
	return o.findBy(ctx, "slug", slug)
}

func (o organizations) findBy(ctx context.Context, column, value string) (*auth.Organization, error) {
	var org auth.Organization
	err := o.q.QueryRowContext(ctx, `
		select id, name, slug, status, created_at
		from organizations
		where `+column+` = $1
	`, value).Scan(&org.ID, &org.Name, &org.Slug, &org.Status, &org.CreatedAt)
	if err != nil {
		return nil, notFound(err, auth.ErrOrgNotFound)
	}
	return &org, nil
}

type audit struct{ q querier }

func (a audit) Append(ctx context.Context, entry *auth.AuditEntry) error {
	meta := []byte("{}")
	if len(entry.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(entry.Meta); err != nil {
			return fmt.Errorf("encode audit meta: %w", err)
		}
	}
	_, err := a.q.ExecContext(ctx, `
		insert into audit_logs(id, org_id, actor_user_id, action, target_type, target_id, meta_json, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, nullIfEmpty(entry.OrganizationID), nullIfEmpty(entry.ActorUserID), entry.Action, entry.TargetType, entry.TargetID, meta, entry.CreatedAt)
	return err
}

// notFound maps a missing row (or an id that cannot be a uuid) to sentinel.
func notFound(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrInvalidTextRepr {
		return sentinel
	}
	return err
}

// writeErr maps unique violations outside an "on conflict" clause to auth.ErrConflict.
func writeErr(err error) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func inserted(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

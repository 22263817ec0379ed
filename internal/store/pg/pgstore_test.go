package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"orgauth.dev/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestWithinTxCommits(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WithArgs("u-1", "alice@example.com", "digest", sqlmock.AnyArg(), false, "Alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinTx(ctx, func(tx auth.Repos) error {
		user := &auth.User{ID: "u-1", Email: "alice@example.com", PasswordDigest: "digest", DisplayName: "Alice", CreatedAt: time.Now()}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		return tx.Audit().Append(ctx, &auth.AuditEntry{ID: "a-1", Action: "user.create", TargetType: "user", TargetID: "u-1", Meta: map[string]any{"k": "v"}})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
}

func TestWithinTxRollsBackOnDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithinTx(ctx, func(tx auth.Repos) error {
		return tx.Users().Create(ctx, &auth.User{ID: "u-2", Email: "dup@example.com"})
	})
	if !errors.Is(err, auth.ErrEmailTaken) || !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestFindByEmailMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("from users where lower\\(email\\) = lower\\(\\$1\\)").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_digest", "temp_password_digest", "must_change_password", "display_name", "created_at"}))

	_, err := store.Users().FindByEmail(context.Background(), " ghost@example.com ")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindByEmailScansTempDigest(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("from users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_digest", "temp_password_digest", "must_change_password", "display_name", "created_at"}).
			AddRow("u-1", "bob@x.com", "placeholder", "temp", true, "bob", created))

	user, err := store.Users().FindByEmail(context.Background(), "BOB@x.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if !user.MustChangePassword || user.TempPasswordDigest != "temp" || user.ActiveDigest() != "temp" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestMarkAcceptedGuardsOnStatus(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now()

	mock.ExpectExec("update invites set status = 'ACCEPTED', accepted_at = \\$2\\s+where id = \\$1 and status = 'PENDING'").
		WithArgs("inv-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update invites set status = 'ACCEPTED'").
		WithArgs("inv-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Invites().MarkAccepted(context.Background(), "inv-1", at); err != nil {
		t.Fatalf("first MarkAccepted: %v", err)
	}
	if err := store.Invites().MarkAccepted(context.Background(), "inv-1", at); !errors.Is(err, auth.ErrInviteNotPending) {
		t.Fatalf("expected ErrInviteNotPending, got %v", err)
	}
}

func TestMembershipCreateIfAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	m := &auth.Membership{ID: "m-1", OrganizationID: "org", UserID: "user", RoleID: "role", State: auth.MembershipActive, CreatedAt: time.Now()}

	mock.ExpectExec("insert into org_memberships.*on conflict \\(org_id, user_id\\) do nothing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into org_memberships").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store.Memberships().CreateIfAbsent(ctx, m)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = store.Memberships().CreateIfAbsent(ctx, m)
	if err != nil || created {
		t.Fatalf("second insert should be a no-op: created=%v err=%v", created, err)
	}
}

func TestFindPendingInviteScansNullables(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "org_id", "email", "temp_password_digest", "role_id", "name", "display_name",
		"expires_at", "invited_by_user_id", "accepted_at", "status", "created_at"}
	mock.ExpectQuery("from invites i.*order by i.created_at desc").
		WithArgs("bob@x.com", "PENDING").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("inv-1", "org-1", "bob@x.com", "digest", "role-1", "USER", "", now.Add(72*time.Hour), nil, nil, "PENDING", now))

	inv, err := store.Invites().FindPendingByEmail(context.Background(), "bob@x.com")
	if err != nil {
		t.Fatalf("FindPendingByEmail: %v", err)
	}
	if inv.RoleName != auth.RoleUser || inv.Status != auth.InvitePending || inv.AcceptedAt != nil || inv.InvitedByUserID != "" {
		t.Fatalf("unexpected invite %+v", inv)
	}
}

func TestPgErrorsMapToOutcomes(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("from organizations").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: pgErrInvalidTextRepr})
	mock.ExpectExec("insert into invites").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "invites_pkey"})

	if _, err := store.Organizations().Find(ctx, "not-a-uuid"); !errors.Is(err, auth.ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound, got %v", err)
	}
	err := store.Invites().Create(ctx, &auth.Invite{ID: "inv-1", Status: auth.InvitePending})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"tollgate.dev/internal/auth"
)

const testUserID = "5b0c8a52-3f0e-4c55-9b8e-1c2d3e4f5a6b"

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreateIdentityDuplicateUsername(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WithArgs(testUserID, "alice", "alice@example.com", "hash", true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_username_key"})
	mock.ExpectRollback()

	_, err := store.CreateIdentity(context.Background(), auth.Identity{
		ID: testUserID, Username: "alice", Email: "alice@example.com", PasswordHash: "hash", Enabled: true,
	}, []string{"role-1"})
	if !errors.Is(err, auth.ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMapWriteError(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "users_email_key"}, auth.ErrDuplicateEmail},
		{&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "roles_name_key"}, auth.ErrConflict},
		{&pgconn.PgError{Code: pgErrForeignKeyViolation}, auth.ErrNotFound},
	}
	for _, tc := range cases {
		if got := mapWriteError(tc.err); !errors.Is(got, tc.want) {
			t.Fatalf("mapWriteError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	plain := errors.New("boom")
	if got := mapWriteError(plain); got != plain {
		t.Fatalf("non-pg errors should pass through, got %v", got)
	}
}

func TestGetIdentityLoadsRoles(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select id, username, email, password_hash, enabled, created_at, updated_at from users where id").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "enabled", "created_at", "updated_at"}).
			AddRow(testUserID, "alice", "alice@example.com", "hash", true, now, now))
	mock.ExpectQuery("select ur.user_id, r.name").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name"}).
			AddRow(testUserID, "MODERATOR").
			AddRow(testUserID, "USER"))

	ident, err := store.GetIdentity(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if ident.Username != "alice" || len(ident.Roles) != 2 || ident.Roles[1] != "USER" {
		t.Fatalf("unexpected identity %+v", ident)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetIdentityRejectsMalformedID(t *testing.T) {
	store, mock := newMockStore(t)
	if _, err := store.GetIdentity(context.Background(), "not-a-uuid"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no queries expected: %v", err)
	}
}

func TestUpdateRoleNameTaken(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`select exists\(select 1 from roles where name = \$1 and id <> \$2\)`).
		WithArgs("ADMIN", "role-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	name := "ADMIN"
	if _, err := store.UpdateRole(context.Background(), "role-2", auth.RoleUpdate{Name: &name}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignRolesUnknownRole(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`select exists\(select 1 from users where id = \$1\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("insert into user_roles").
		WithArgs(testUserID, "missing").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	if err := store.AssignRoles(context.Background(), testUserID, []string{"missing"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkSessionRevoked(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update session_tokens set revoked = true").
		WithArgs("known").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update session_tokens set revoked = true").
		WithArgs("unknown").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.MarkSessionRevoked(context.Background(), "known"); err != nil {
		t.Fatalf("revoke known: %v", err)
	}
	if err := store.MarkSessionRevoked(context.Background(), "unknown"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUnrevokedSessionsBySubject(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	// no expiry predicate: expired but unrevoked rows must come back too
	mock.ExpectQuery(`where subject_id = \$1 and revoked = false\s+order by`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject_id", "token_hash", "issued_at", "expires_at", "revoked", "ip_address", "user_agent"}).
			AddRow("01A", testUserID, "h1", now.Add(-2*time.Hour), now.Add(-time.Hour), false, "10.0.0.1", nil).
			AddRow("01B", testUserID, "h2", now, now.Add(time.Hour), false, nil, "curl/8"))

	recs, err := store.UnrevokedSessionsBySubject(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("UnrevokedSessionsBySubject: %v", err)
	}
	if len(recs) != 2 || recs[0].IPAddress != "10.0.0.1" || recs[0].UserAgent != "" || recs[1].UserAgent != "curl/8" {
		t.Fatalf("unexpected records %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("delete from session_tokens where expires_at < ").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := store.DeleteExpiredSessions(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Fatalf("DeleteExpiredSessions: n=%d err=%v", n, err)
	}
}

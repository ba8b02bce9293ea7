package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tollgate.dev/internal/auth"
)

func TestRoleRenameConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	admin, err := s.CreateRole(ctx, "ADMIN", "")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := s.CreateRole(ctx, "USER", ""); err != nil {
		t.Fatalf("create role: %v", err)
	}
	name := "USER"
	if _, err := s.UpdateRole(ctx, admin.ID, auth.RoleUpdate{Name: &name}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := s.GetRoleByName(ctx, "ADMIN")
	if err != nil || got.ID != admin.ID {
		t.Fatalf("previous name should still resolve: %v %+v", err, got)
	}
}

func TestDeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	role, _ := s.CreateRole(ctx, "EDITOR", "")
	perm, _ := s.CreatePermission(ctx, "EDIT", "")
	if err := s.AddRolePermissions(ctx, role.ID, []string{perm.ID}); err != nil {
		t.Fatalf("add permissions: %v", err)
	}
	ident, err := s.CreateIdentity(ctx, auth.Identity{ID: "u1", Username: "bob", Email: "bob@example.com"}, []string{role.ID})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if len(ident.Roles) != 1 || ident.Roles[0] != "EDITOR" {
		t.Fatalf("unexpected roles: %v", ident.Roles)
	}
	if err := s.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	ident, _ = s.GetIdentity(ctx, "u1")
	if len(ident.Roles) != 0 {
		t.Fatalf("role link should be gone: %v", ident.Roles)
	}
	if _, err := s.GetPermission(ctx, perm.ID); err != nil {
		t.Fatalf("permission should survive: %v", err)
	}
}

func TestCreateIdentityDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.CreateIdentity(ctx, auth.Identity{ID: "u1", Username: "bob", Email: "bob@example.com"}, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.CreateIdentity(ctx, auth.Identity{ID: "u2", Username: "bob", Email: "other@example.com"}, nil)
	if !errors.Is(err, auth.ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	_, err = s.CreateIdentity(ctx, auth.Identity{ID: "u3", Username: "carol", Email: "bob@example.com"}, nil)
	if !errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	all, _ := s.ListIdentities(ctx)
	if len(all) != 1 {
		t.Fatalf("expected one identity, got %d", len(all))
	}
}

func TestSessionsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	live := auth.SessionRecord{ID: "a", SubjectID: "u1", TokenHash: "h1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	old := auth.SessionRecord{ID: "b", SubjectID: "u1", TokenHash: "h2", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, rec := range []auth.SessionRecord{live, old} {
		if err := s.InsertSession(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.InsertSession(ctx, live); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict on duplicate hash, got %v", err)
	}

	unrevoked, _ := s.UnrevokedSessionsBySubject(ctx, "u1")
	if len(unrevoked) != 2 || unrevoked[0].ID != "b" || unrevoked[1].ID != "a" {
		t.Fatalf("unexpected unrevoked sessions: %+v", unrevoked)
	}

	if err := s.MarkSessionRevoked(ctx, "h1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.MarkSessionRevoked(ctx, "h1"); err != nil {
		t.Fatalf("second revoke should succeed: %v", err)
	}
	rec, _ := s.SessionByTokenHash(ctx, "h1")
	if !rec.Revoked {
		t.Fatal("expected revoked")
	}
	if err := s.MarkSessionRevoked(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	n, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if _, err := s.SessionByTokenHash(ctx, "h2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expired record should be gone, got %v", err)
	}
}

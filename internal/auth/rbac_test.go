package auth_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/store/memory"
)

func TestAssignPermissionsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	role, err := env.rbac.CreateRole(ctx, "auditor", "read only")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if role.Name != "AUDITOR" {
		t.Fatalf("role name should be upper-cased, got %q", role.Name)
	}
	for i := 0; i < 2; i++ {
		role, err = env.rbac.AssignPermissions(ctx, role.ID, []string{auth.PermReadUser, auth.PermReadAdmin})
		if err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
	}
	if !reflect.DeepEqual(role.Permissions, []string{auth.PermReadAdmin, auth.PermReadUser}) {
		t.Fatalf("unexpected permissions %v", role.Permissions)
	}
	for i := 0; i < 2; i++ {
		role, err = env.rbac.RemovePermissions(ctx, role.ID, []string{auth.PermReadAdmin})
		if err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}
	if !reflect.DeepEqual(role.Permissions, []string{auth.PermReadUser}) {
		t.Fatalf("unexpected permissions %v", role.Permissions)
	}
	if _, err := env.rbac.AssignPermissions(ctx, role.ID, []string{"NO_SUCH"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found for unknown permission, got %v", err)
	}
}

func TestAssignRolesIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	frank := env.register(t, "frank")
	for i := 0; i < 2; i++ {
		ident, err := env.rbac.AssignRoles(ctx, frank.ID, []string{auth.RoleModerator})
		if err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
		if !reflect.DeepEqual(ident.Roles, []string{auth.RoleModerator, auth.RoleUser}) {
			t.Fatalf("unexpected roles %v", ident.Roles)
		}
	}
	ident, err := env.rbac.RemoveRoles(ctx, frank.ID, []string{auth.RoleModerator, auth.RoleAdmin})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !reflect.DeepEqual(ident.Roles, []string{auth.RoleUser}) {
		t.Fatalf("unexpected roles %v", ident.Roles)
	}
	if _, err := env.rbac.AssignRoles(ctx, "missing", []string{auth.RoleUser}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleRenameConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mod, err := env.rbac.GetRoleByName(ctx, "moderator")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	name := auth.RoleAdmin
	if _, err := env.rbac.UpdateRole(ctx, mod.ID, auth.RoleUpdate{Name: &name}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	name = "SUPPORT"
	renamed, err := env.rbac.UpdateRole(ctx, mod.ID, auth.RoleUpdate{Name: &name})
	if err != nil || renamed.Name != "SUPPORT" {
		t.Fatalf("rename: %+v %v", renamed, err)
	}
	if _, err := env.rbac.CreatePermission(ctx, auth.PermReadUser, ""); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict on duplicate permission, got %v", err)
	}
	if _, err := env.rbac.CreateRole(ctx, "bad name", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gina := env.register(t, "gina")
	env.register(t, "hank")

	taken := "hank"
	if _, err := env.rbac.UpdateIdentity(ctx, gina.ID, auth.IdentityUpdate{Username: &taken}); !errors.Is(err, auth.ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	pw := "brand-new-secret"
	email := "Gina.New@example.com"
	upd, err := env.rbac.UpdateIdentity(ctx, gina.ID, auth.IdentityUpdate{Password: &pw, Email: &email})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Email != "gina.new@example.com" {
		t.Fatalf("email should be normalized, got %q", upd.Email)
	}
	if _, err := env.svc.Login(ctx, "gina", "brand-new-secret", auth.RequestMeta{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := env.rbac.DeleteIdentity(ctx, gina.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.rbac.GetIdentity(ctx, gina.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSeedIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	cfg := auth.SeedConfig{AdminUsername: "root", AdminEmail: "root@example.com", AdminPassword: "root-password"}

	first, err := auth.Seed(ctx, store, hasher, cfg, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if first.Permissions != len(auth.BuiltinPermissions) || first.Roles != 3 || !first.Admin {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := auth.Seed(ctx, store, hasher, cfg, nil)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if second != (auth.SeedResult{}) {
		t.Fatalf("second seed should be a no-op, got %+v", second)
	}

	admin, _ := store.GetRoleByName(ctx, auth.RoleAdmin)
	if len(admin.Permissions) != len(auth.BuiltinPermissions) {
		t.Fatalf("admin should own every permission, got %v", admin.Permissions)
	}
	user, _ := store.GetRoleByName(ctx, auth.RoleUser)
	if !reflect.DeepEqual(user.Permissions, []string{auth.PermReadUser}) {
		t.Fatalf("unexpected USER permissions %v", user.Permissions)
	}
	root, err := store.GetIdentityByUsername(ctx, "root")
	if err != nil || !root.HasRole(auth.RoleAdmin) || !root.Enabled {
		t.Fatalf("unexpected admin identity %+v %v", root, err)
	}
}

package auth

import (
	"context"
	"time"
)

// RBACStore persists identities, roles, permissions and the associations
// between them. Name lookups are backed by unique indexes; the store is the
// authoritative guard for uniqueness even when callers check first.
type RBACStore interface {
	CreateIdentity(ctx context.Context, ident Identity, roleIDs []string) (Identity, error)
	GetIdentity(ctx context.Context, id string) (Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	AssignRoles(ctx context.Context, identityID string, roleIDs []string) error
	RemoveRoles(ctx context.Context, identityID string, roleIDs []string) error
	IdentityRoles(ctx context.Context, identityID string) ([]Role, error)

	CreateRole(ctx context.Context, name, description string) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	RemoveRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error

	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	DeletePermission(ctx context.Context, id string) error
}

// LedgerStore persists session records keyed by token hash, with a
// secondary index on subject id.
type LedgerStore interface {
	InsertSession(ctx context.Context, rec SessionRecord) error
	SessionByTokenHash(ctx context.Context, tokenHash string) (SessionRecord, error)
	// UnrevokedSessionsBySubject returns every record of the subject with
	// revoked = false, expired or not.
	UnrevokedSessionsBySubject(ctx context.Context, subjectID string) ([]SessionRecord, error)
	// MarkSessionRevoked flips revoked to true. It never clears the flag.
	MarkSessionRevoked(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error)
}

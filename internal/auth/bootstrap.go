package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tollgate.dev/internal/ids"
)

// SeedConfig describes the default administrator created by Seed.
type SeedConfig struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// SeedResult counts what Seed created. All zeros means the store was
// already seeded.
type SeedResult struct {
	Permissions int  `json:"permissions"`
	Roles       int  `json:"roles"`
	Grants      int  `json:"grants"`
	Admin       bool `json:"admin"`
}

// Seed creates the built-in permission catalog, the ADMIN, USER and
// MODERATOR roles and a default admin identity. Every step checks for an
// existing record first, so repeated runs are no-ops.
func Seed(ctx context.Context, store RBACStore, hasher PasswordHasher, cfg SeedConfig, logger *slog.Logger) (SeedResult, error) {
	var res SeedResult
	if store == nil {
		return res, errors.New("rbac store is required")
	}
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}

	permIDs := make(map[string]string, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		perm, err := store.GetPermissionByName(ctx, p.Name)
		if errors.Is(err, ErrNotFound) {
			perm, err = store.CreatePermission(ctx, p.Name, p.Description)
			if err == nil {
				res.Permissions++
			}
		}
		if err != nil {
			return res, fmt.Errorf("seed permission %s: %w", p.Name, err)
		}
		permIDs[p.Name] = perm.ID
	}

	roleIDs := make(map[string]string, len(builtinRoles))
	for _, def := range builtinRoles {
		role, err := store.GetRoleByName(ctx, def.name)
		if errors.Is(err, ErrNotFound) {
			role, err = store.CreateRole(ctx, def.name, def.description)
			if err == nil {
				res.Roles++
			}
		}
		if err != nil {
			return res, fmt.Errorf("seed role %s: %w", def.name, err)
		}
		roleIDs[def.name] = role.ID

		wanted := def.permissions
		if wanted == nil {
			wanted = make([]string, 0, len(BuiltinPermissions))
			for _, p := range BuiltinPermissions {
				wanted = append(wanted, p.Name)
			}
		}
		held := make(map[string]struct{}, len(role.Permissions))
		for _, name := range role.Permissions {
			held[name] = struct{}{}
		}
		var missing []string
		for _, name := range wanted {
			if _, ok := held[name]; !ok {
				missing = append(missing, permIDs[name])
			}
		}
		if len(missing) > 0 {
			if err := store.AddRolePermissions(ctx, role.ID, missing); err != nil {
				return res, fmt.Errorf("seed grants for %s: %w", def.name, err)
			}
			res.Grants += len(missing)
		}
	}

	if cfg.AdminUsername == "" {
		return res, nil
	}
	exists, err := store.UsernameExists(ctx, cfg.AdminUsername)
	if err != nil {
		return res, fmt.Errorf("seed admin: %w", err)
	}
	if !exists {
		username, email, err := normalizeAccount(cfg.AdminUsername, cfg.AdminEmail)
		if err != nil {
			return res, fmt.Errorf("seed admin: %w", err)
		}
		if err := validatePassword(cfg.AdminPassword); err != nil {
			return res, fmt.Errorf("seed admin: %w", err)
		}
		hash, err := hasher.Hash(cfg.AdminPassword)
		if err != nil {
			return res, fmt.Errorf("seed admin: hash password: %w", err)
		}
		if _, err := store.CreateIdentity(ctx, Identity{
			ID:           ids.NewIdentity(),
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Enabled:      true,
		}, []string{roleIDs[RoleAdmin]}); err != nil {
			return res, fmt.Errorf("seed admin: %w", err)
		}
		res.Admin = true
	}
	if logger != nil {
		logger.InfoContext(ctx, "seed complete",
			"permissions", res.Permissions, "roles", res.Roles, "grants", res.Grants, "admin_created", res.Admin)
	}
	return res, nil
}

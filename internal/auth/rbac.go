package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tollgate.dev/internal/ids"
)

var namePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)

// NewIdentity is an administrative account creation request.
type NewIdentity struct {
	Username string
	Email    string
	Password string
	Enabled  bool
	Roles    []string
}

// RBACService manages identities, roles and permissions.
type RBACService struct {
	store  RBACStore
	hasher PasswordHasher
}

// NewRBACService wraps store. A nil hasher falls back to bcrypt.
func NewRBACService(store RBACStore, hasher PasswordHasher) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &RBACService{store: store, hasher: hasher}, nil
}

func (s *RBACService) CreateIdentity(ctx context.Context, in NewIdentity) (Identity, error) {
	username, email, err := normalizeAccount(in.Username, in.Email)
	if err != nil {
		return Identity{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return Identity{}, err
	}
	if err := checkAvailable(ctx, s.store, username, email); err != nil {
		return Identity{}, err
	}
	roleIDs, err := s.roleIDs(ctx, in.Roles)
	if err != nil {
		return Identity{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	return s.store.CreateIdentity(ctx, Identity{
		ID:           ids.NewIdentity(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Enabled:      in.Enabled,
	}, roleIDs)
}

func (s *RBACService) ListIdentities(ctx context.Context) ([]Identity, error) {
	return s.store.ListIdentities(ctx)
}

func (s *RBACService) GetIdentity(ctx context.Context, id string) (Identity, error) {
	id, err := requireID(id, "identity_id")
	if err != nil {
		return Identity{}, err
	}
	return s.store.GetIdentity(ctx, id)
}

func (s *RBACService) GetIdentityByUsername(ctx context.Context, username string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Identity{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	return s.store.GetIdentityByUsername(ctx, username)
}

// UpdateIdentity applies upd. Password, when set, is plaintext and gets
// hashed here.
func (s *RBACService) UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate) (Identity, error) {
	id, err := requireID(id, "identity_id")
	if err != nil {
		return Identity{}, err
	}
	current, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	var out IdentityUpdate
	if upd.Username != nil {
		username := strings.TrimSpace(*upd.Username)
		if username != current.Username {
			if _, _, err := normalizeAccount(username, current.Email); err != nil {
				return Identity{}, err
			}
			if err := checkAvailable(ctx, s.store, username, ""); err != nil {
				return Identity{}, err
			}
			out.Username = &username
		}
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return Identity{}, err
		}
		if email != current.Email {
			if err := checkAvailable(ctx, s.store, "", email); err != nil {
				return Identity{}, err
			}
			out.Email = &email
		}
	}
	if upd.Password != nil {
		if err := validatePassword(*upd.Password); err != nil {
			return Identity{}, err
		}
		hash, err := s.hasher.Hash(*upd.Password)
		if err != nil {
			return Identity{}, fmt.Errorf("hash password: %w", err)
		}
		out.Password = &hash
	}
	out.Enabled = upd.Enabled
	if out.Username == nil && out.Email == nil && out.Password == nil && out.Enabled == nil {
		return current, nil
	}
	return s.store.UpdateIdentity(ctx, id, out)
}

// SetEnabled toggles whether the identity may log in. Tokens already issued
// stay valid until revoked or expired.
func (s *RBACService) SetEnabled(ctx context.Context, id string, enabled bool) (Identity, error) {
	return s.UpdateIdentity(ctx, id, IdentityUpdate{Enabled: &enabled})
}

func (s *RBACService) DeleteIdentity(ctx context.Context, id string) error {
	id, err := requireID(id, "identity_id")
	if err != nil {
		return err
	}
	return s.store.DeleteIdentity(ctx, id)
}

// AssignRoles adds roles by name. Roles already held are left as is.
func (s *RBACService) AssignRoles(ctx context.Context, identityID string, roles []string) (Identity, error) {
	identityID, err := requireID(identityID, "identity_id")
	if err != nil {
		return Identity{}, err
	}
	roleIDs, err := s.roleIDs(ctx, roles)
	if err != nil {
		return Identity{}, err
	}
	if len(roleIDs) == 0 {
		return Identity{}, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	if err := s.store.AssignRoles(ctx, identityID, roleIDs); err != nil {
		return Identity{}, err
	}
	return s.store.GetIdentity(ctx, identityID)
}

// RemoveRoles drops roles by name. Roles not held are ignored.
func (s *RBACService) RemoveRoles(ctx context.Context, identityID string, roles []string) (Identity, error) {
	identityID, err := requireID(identityID, "identity_id")
	if err != nil {
		return Identity{}, err
	}
	roleIDs, err := s.roleIDs(ctx, roles)
	if err != nil {
		return Identity{}, err
	}
	if len(roleIDs) == 0 {
		return Identity{}, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	if err := s.store.RemoveRoles(ctx, identityID, roleIDs); err != nil {
		return Identity{}, err
	}
	return s.store.GetIdentity(ctx, identityID)
}

func (s *RBACService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name, err := normalizeName(name, "role")
	if err != nil {
		return Role{}, err
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, id string) (Role, error) {
	id, err := requireID(id, "role_id")
	if err != nil {
		return Role{}, err
	}
	return s.store.GetRole(ctx, id)
}

func (s *RBACService) GetRoleByName(ctx context.Context, name string) (Role, error) {
	name, err := normalizeName(name, "role")
	if err != nil {
		return Role{}, err
	}
	return s.store.GetRoleByName(ctx, name)
}

// UpdateRole renames or redescribes a role. A rename onto an existing name
// fails with ErrConflict; the store performs the check and the write in one
// transaction.
func (s *RBACService) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	id, err := requireID(id, "role_id")
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name, err := normalizeName(*upd.Name, "role")
		if err != nil {
			return Role{}, err
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.Name == nil && upd.Description == nil {
		return s.store.GetRole(ctx, id)
	}
	return s.store.UpdateRole(ctx, id, upd)
}

func (s *RBACService) DeleteRole(ctx context.Context, id string) error {
	id, err := requireID(id, "role_id")
	if err != nil {
		return err
	}
	return s.store.DeleteRole(ctx, id)
}

// AssignPermissions grants permissions by name. Already granted permissions
// are a no-op.
func (s *RBACService) AssignPermissions(ctx context.Context, roleID string, permissions []string) (Role, error) {
	roleID, err := requireID(roleID, "role_id")
	if err != nil {
		return Role{}, err
	}
	permIDs, err := s.permissionIDs(ctx, permissions)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.AddRolePermissions(ctx, roleID, permIDs); err != nil {
		return Role{}, err
	}
	return s.store.GetRole(ctx, roleID)
}

// RemovePermissions revokes permissions by name. Permissions the role does
// not hold are a no-op.
func (s *RBACService) RemovePermissions(ctx context.Context, roleID string, permissions []string) (Role, error) {
	roleID, err := requireID(roleID, "role_id")
	if err != nil {
		return Role{}, err
	}
	permIDs, err := s.permissionIDs(ctx, permissions)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.RemoveRolePermissions(ctx, roleID, permIDs); err != nil {
		return Role{}, err
	}
	return s.store.GetRole(ctx, roleID)
}

func (s *RBACService) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name, err := normalizeName(name, "permission")
	if err != nil {
		return Permission{}, err
	}
	return s.store.CreatePermission(ctx, name, strings.TrimSpace(description))
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) GetPermission(ctx context.Context, id string) (Permission, error) {
	id, err := requireID(id, "permission_id")
	if err != nil {
		return Permission{}, err
	}
	return s.store.GetPermission(ctx, id)
}

func (s *RBACService) DeletePermission(ctx context.Context, id string) error {
	id, err := requireID(id, "permission_id")
	if err != nil {
		return err
	}
	return s.store.DeletePermission(ctx, id)
}

func (s *RBACService) roleIDs(ctx context.Context, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, raw := range dedupeStrings(names) {
		name, err := normalizeName(raw, "role")
		if err != nil {
			return nil, err
		}
		role, err := s.store.GetRoleByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
		out = append(out, role.ID)
	}
	return out, nil
}

func (s *RBACService) permissionIDs(ctx context.Context, names []string) ([]string, error) {
	names = dedupeStrings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one permission is required", ErrInvalidInput)
	}
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name, err := normalizeName(raw, "permission")
		if err != nil {
			return nil, err
		}
		perm, err := s.store.GetPermissionByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("permission %s: %w", name, err)
		}
		out = append(out, perm.ID)
	}
	return out, nil
}

func normalizeName(name, kind string) (string, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %s name must match %s", ErrInvalidInput, kind, namePattern.String())
	}
	return name, nil
}

func requireID(id, field string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return id, nil
}

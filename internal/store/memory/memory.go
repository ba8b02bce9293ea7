// Package memory keeps identities, roles, permissions and ledger records in
// process memory. It backs the memory store and ledger drivers and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/ids"
)

var (
	_ auth.RBACStore   = (*Store)(nil)
	_ auth.LedgerStore = (*Store)(nil)
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	identities map[string]auth.Identity
	usernames  map[string]string
	emails     map[string]string
	userRoles  map[string]map[string]struct{}

	roles     map[string]auth.Role
	roleNames map[string]string
	rolePerms map[string]map[string]struct{}

	perms     map[string]auth.Permission
	permNames map[string]string

	sessions  map[string]auth.SessionRecord
	bySubject map[string]map[string]struct{}
}

type Option func(*Store)

// WithClock sets the timestamp source for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:        time.Now,
		identities: make(map[string]auth.Identity),
		usernames:  make(map[string]string),
		emails:     make(map[string]string),
		userRoles:  make(map[string]map[string]struct{}),
		roles:      make(map[string]auth.Role),
		roleNames:  make(map[string]string),
		rolePerms:  make(map[string]map[string]struct{}),
		perms:      make(map[string]auth.Permission),
		permNames:  make(map[string]string),
		sessions:   make(map[string]auth.SessionRecord),
		bySubject:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds; it lets the store sit behind a readiness check.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) stamp() time.Time { return s.now().UTC() }

// Identities

func (s *Store) CreateIdentity(ctx context.Context, ident auth.Identity, roleIDs []string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[ident.Username]; ok {
		return auth.Identity{}, auth.ErrDuplicateUsername
	}
	if _, ok := s.emails[ident.Email]; ok {
		return auth.Identity{}, auth.ErrDuplicateEmail
	}
	if _, ok := s.identities[ident.ID]; ok || ident.ID == "" {
		return auth.Identity{}, auth.ErrConflict
	}
	for _, rid := range roleIDs {
		if _, ok := s.roles[rid]; !ok {
			return auth.Identity{}, auth.ErrNotFound
		}
	}
	now := s.stamp()
	ident.CreatedAt, ident.UpdatedAt = now, now
	ident.Roles = nil
	s.identities[ident.ID] = ident
	s.usernames[ident.Username] = ident.ID
	s.emails[ident.Email] = ident.ID
	links := make(map[string]struct{}, len(roleIDs))
	for _, rid := range roleIDs {
		links[rid] = struct{}{}
	}
	s.userRoles[ident.ID] = links
	return s.identityLocked(ident.ID), nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.identities[id]; !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return s.identityLocked(id), nil
}

func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return s.identityLocked(id), nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Identity, 0, len(s.identities))
	for id := range s.identities {
		out = append(out, s.identityLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.usernames[username]
	return ok, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[email]
	return ok, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	if upd.Username != nil && *upd.Username != ident.Username {
		if _, taken := s.usernames[*upd.Username]; taken {
			return auth.Identity{}, auth.ErrDuplicateUsername
		}
	}
	if upd.Email != nil && *upd.Email != ident.Email {
		if _, taken := s.emails[*upd.Email]; taken {
			return auth.Identity{}, auth.ErrDuplicateEmail
		}
	}
	if upd.Username != nil && *upd.Username != ident.Username {
		delete(s.usernames, ident.Username)
		ident.Username = *upd.Username
		s.usernames[ident.Username] = id
	}
	if upd.Email != nil && *upd.Email != ident.Email {
		delete(s.emails, ident.Email)
		ident.Email = *upd.Email
		s.emails[ident.Email] = id
	}
	if upd.Password != nil {
		ident.PasswordHash = *upd.Password
	}
	if upd.Enabled != nil {
		ident.Enabled = *upd.Enabled
	}
	ident.UpdatedAt = s.stamp()
	s.identities[id] = ident
	return s.identityLocked(id), nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.identities, id)
	delete(s.usernames, ident.Username)
	delete(s.emails, ident.Email)
	delete(s.userRoles, id)
	return nil
}

func (s *Store) AssignRoles(ctx context.Context, identityID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identityID]; !ok {
		return auth.ErrNotFound
	}
	for _, rid := range roleIDs {
		if _, ok := s.roles[rid]; !ok {
			return auth.ErrNotFound
		}
	}
	links := s.userRoles[identityID]
	if links == nil {
		links = make(map[string]struct{})
		s.userRoles[identityID] = links
	}
	for _, rid := range roleIDs {
		links[rid] = struct{}{}
	}
	return nil
}

func (s *Store) RemoveRoles(ctx context.Context, identityID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identityID]; !ok {
		return auth.ErrNotFound
	}
	for _, rid := range roleIDs {
		delete(s.userRoles[identityID], rid)
	}
	return nil
}

func (s *Store) IdentityRoles(ctx context.Context, identityID string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.identities[identityID]; !ok {
		return nil, auth.ErrNotFound
	}
	out := make([]auth.Role, 0, len(s.userRoles[identityID]))
	for rid := range s.userRoles[identityID] {
		out = append(out, s.roleLocked(rid))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) identityLocked(id string) auth.Identity {
	ident := s.identities[id]
	names := make([]string, 0, len(s.userRoles[id]))
	for rid := range s.userRoles[id] {
		names = append(names, s.roles[rid].Name)
	}
	sort.Strings(names)
	ident.Roles = names
	return ident
}

// Roles

func (s *Store) CreateRole(ctx context.Context, name, description string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roleNames[name]; ok {
		return auth.Role{}, auth.ErrConflict
	}
	now := s.stamp()
	role := auth.Role{ID: ids.New(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.roles[role.ID] = role
	s.roleNames[name] = role.ID
	s.rolePerms[role.ID] = make(map[string]struct{})
	return s.roleLocked(role.ID), nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[id]; !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return s.roleLocked(id), nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleNames[name]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return s.roleLocked(id), nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for id := range s.roles {
		out = append(out, s.roleLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateRole checks name uniqueness and writes under the same lock.
func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil && *upd.Name != role.Name {
		if _, taken := s.roleNames[*upd.Name]; taken {
			return auth.Role{}, auth.ErrConflict
		}
		delete(s.roleNames, role.Name)
		role.Name = *upd.Name
		s.roleNames[role.Name] = id
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	role.UpdatedAt = s.stamp()
	s.roles[id] = role
	return s.roleLocked(id), nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.roleNames, role.Name)
	delete(s.rolePerms, id)
	for _, links := range s.userRoles {
		delete(links, id)
	}
	return nil
}

func (s *Store) AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return auth.ErrNotFound
		}
	}
	for _, pid := range permissionIDs {
		s.rolePerms[roleID][pid] = struct{}{}
	}
	return nil
}

func (s *Store) RemoveRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	for _, pid := range permissionIDs {
		delete(s.rolePerms[roleID], pid)
	}
	return nil
}

func (s *Store) roleLocked(id string) auth.Role {
	role := s.roles[id]
	names := make([]string, 0, len(s.rolePerms[id]))
	for pid := range s.rolePerms[id] {
		names = append(names, s.perms[pid].Name)
	}
	sort.Strings(names)
	role.Permissions = names
	return role
}

// Permissions

func (s *Store) CreatePermission(ctx context.Context, name, description string) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permNames[name]; ok {
		return auth.Permission{}, auth.ErrConflict
	}
	perm := auth.Permission{ID: ids.New(), Name: name, Description: description, CreatedAt: s.stamp()}
	s.perms[perm.ID] = perm
	s.permNames[name] = perm.ID
	return perm, nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.perms[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return perm, nil
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permNames[name]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return s.perms[id], nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.perms, id)
	delete(s.permNames, perm.Name)
	for _, links := range s.rolePerms {
		delete(links, id)
	}
	return nil
}

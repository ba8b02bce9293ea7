package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/ids"
)

const identityColumns = `id, username, email, password_hash, enabled, created_at, updated_at`

func (s *Store) CreateIdentity(ctx context.Context, ident auth.Identity, roleIDs []string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Identity{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, enabled)
		values ($1, $2, $3, $4, $5)
	`, ident.ID, ident.Username, ident.Email, ident.PasswordHash, ident.Enabled); err != nil {
		return auth.Identity{}, mapWriteError(err)
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
			on conflict do nothing
		`, ident.ID, roleID); err != nil {
			return auth.Identity{}, mapWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Identity{}, err
	}
	return s.GetIdentity(ctx, ident.ID)
}

func (s *Store) GetIdentity(ctx context.Context, id string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	if !ids.ValidIdentity(id) {
		return auth.Identity{}, auth.ErrNotFound
	}
	return s.identityWhere(ctx, "id", id)
}

func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	return s.identityWhere(ctx, "username", username)
}

func (s *Store) identityWhere(ctx context.Context, column, value string) (auth.Identity, error) {
	var ident auth.Identity
	err := s.db.QueryRowContext(ctx, `select `+identityColumns+` from users where `+column+` = $1`, value).
		Scan(&ident.ID, &ident.Username, &ident.Email, &ident.PasswordHash, &ident.Enabled, &ident.CreatedAt, &ident.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	roles, err := s.roleNamesFor(ctx, ident.ID)
	if err != nil {
		return auth.Identity{}, err
	}
	ident.Roles = roles[ident.ID]
	if ident.Roles == nil {
		ident.Roles = []string{}
	}
	return ident, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]auth.Identity, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+identityColumns+` from users order by username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Identity
	for rows.Next() {
		var ident auth.Identity
		if err := rows.Scan(&ident.ID, &ident.Username, &ident.Email, &ident.PasswordHash, &ident.Enabled, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	roles, err := s.roleNamesFor(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Roles = roles[result[i].ID]
		if result[i].Roles == nil {
			result[i].Roles = []string{}
		}
	}
	return result, nil
}

// roleNamesFor maps user id to role names. An empty userID loads every user.
func (s *Store) roleNamesFor(ctx context.Context, userID string) (map[string][]string, error) {
	query := `
		select ur.user_id, r.name
		from user_roles ur
		join roles r on r.id = ur.role_id`
	var args []any
	if userID != "" {
		query += ` where ur.user_id = $1`
		args = append(args, userID)
	}
	query += ` order by r.name`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var uid, name string
		if err := rows.Scan(&uid, &name); err != nil {
			return nil, err
		}
		out[uid] = append(out[uid], name)
	}
	return out, rows.Err()
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where username = $1)`, username)
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `select exists(select 1 from users where email = $1)`, email)
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, upd auth.IdentityUpdate) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	if !ids.ValidIdentity(id) {
		return auth.Identity{}, auth.ErrNotFound
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Username != nil {
		sets = append(sets, fmt.Sprintf("username = $%d", idx))
		args = append(args, *upd.Username)
		idx++
	}
	if upd.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.Password != nil {
		sets = append(sets, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if upd.Enabled != nil {
		sets = append(sets, fmt.Sprintf("enabled = $%d", idx))
		args = append(args, *upd.Enabled)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		args = append(args, id)
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Identity{}, mapWriteError(err)
		}
		if err := requireAffected(res); err != nil {
			return auth.Identity{}, err
		}
	}
	return s.GetIdentity(ctx, id)
}

// DeleteIdentity removes the user row; role links go with it via cascade.
func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	if !ids.ValidIdentity(id) {
		return auth.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) AssignRoles(ctx context.Context, identityID string, roleIDs []string) error {
	return s.relink(ctx, identityID, roleIDs, `
		insert into user_roles (user_id, role_id) values ($1, $2)
		on conflict do nothing`)
}

func (s *Store) RemoveRoles(ctx context.Context, identityID string, roleIDs []string) error {
	return s.relink(ctx, identityID, roleIDs, `delete from user_roles where user_id = $1 and role_id = $2`)
}

func (s *Store) relink(ctx context.Context, identityID string, roleIDs []string, stmt string) error {
	if s.db == nil {
		return errNoDB
	}
	if !ids.ValidIdentity(identityID) {
		return auth.ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var found bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from users where id = $1)`, identityID).Scan(&found); err != nil {
		return err
	}
	if !found {
		return auth.ErrNotFound
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, stmt, identityID, roleID); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) IdentityRoles(ctx context.Context, identityID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if !ids.ValidIdentity(identityID) {
		return nil, auth.ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, identityID)
	if err != nil {
		return nil, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	perms, err := s.permissionNamesFor(ctx, `
		select rp.role_id, p.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by p.name`, identityID)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = orEmpty(perms[roles[i].ID])
	}
	return roles, nil
}

const roleColumns = `id, name, coalesce(description, ''), created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, name, description string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning `+roleColumns, ids.New(), name, nullIfEmpty(description)).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	role.Permissions = []string{}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	return s.roleWhere(ctx, "id", id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	return s.roleWhere(ctx, "name", name)
}

func (s *Store) roleWhere(ctx context.Context, column, value string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where `+column+` = $1`, value).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := s.permissionNamesFor(ctx, `
		select rp.role_id, p.name
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name`, role.ID)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = orEmpty(perms[role.ID])
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	roles, err := scanRoles(rows)
	if err != nil {
		return nil, err
	}
	perms, err := s.permissionNamesFor(ctx, `
		select rp.role_id, p.name
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		order by p.name`)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = orEmpty(perms[roles[i].ID])
	}
	return roles, nil
}

// UpdateRole runs the name check and the write in one transaction. The
// unique index on roles.name backs it up against concurrent renames.
func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		var taken bool
		if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where name = $1 and id <> $2)`, *upd.Name, id).Scan(&taken); err != nil {
			return auth.Role{}, err
		}
		if taken {
			return auth.Role{}, auth.ErrConflict
		}
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		args = append(args, id)
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Role{}, mapWriteError(err)
		}
		if err := requireAffected(res); err != nil {
			return auth.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) AddRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return s.regrant(ctx, roleID, permissionIDs, `
		insert into role_permissions (role_id, permission_id) values ($1, $2)
		on conflict do nothing`)
}

func (s *Store) RemoveRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return s.regrant(ctx, roleID, permissionIDs, `delete from role_permissions where role_id = $1 and permission_id = $2`)
}

func (s *Store) regrant(ctx context.Context, roleID string, permissionIDs []string, stmt string) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var found bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&found); err != nil {
		return err
	}
	if !found {
		return auth.ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, stmt, roleID, permID); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

const permissionColumns = `id, name, coalesce(description, ''), created_at`

func (s *Store) CreatePermission(ctx context.Context, name, description string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var perm auth.Permission
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, description)
		values ($1, $2, $3)
		returning `+permissionColumns, ids.New(), name, nullIfEmpty(description)).
		Scan(&perm.ID, &perm.Name, &perm.Description, &perm.CreatedAt)
	if err != nil {
		return auth.Permission{}, mapWriteError(err)
	}
	return perm, nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	return s.permissionWhere(ctx, "id", id)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	return s.permissionWhere(ctx, "name", name)
}

func (s *Store) permissionWhere(ctx context.Context, column, value string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errNoDB
	}
	var perm auth.Permission
	err := s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where `+column+` = $1`, value).
		Scan(&perm.ID, &perm.Name, &perm.Description, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, err
	}
	return perm, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		var perm auth.Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) permissionNamesFor(ctx context.Context, query string, args ...any) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var roleID, name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], name)
	}
	return out, rows.Err()
}

func scanRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	var roles []auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

package auth

// Built-in permission names.
const (
	PermReadUser          = "READ_USER"
	PermCreateUser        = "CREATE_USER"
	PermUpdateUser        = "UPDATE_USER"
	PermDeleteUser        = "DELETE_USER"
	PermManageRoles       = "MANAGE_ROLES"
	PermManagePermissions = "MANAGE_PERMISSIONS"
	PermReadAdmin         = "READ_ADMIN"
	PermWriteAdmin        = "WRITE_ADMIN"
	PermDeleteAdmin       = "DELETE_ADMIN"
)

// Built-in role names.
const (
	RoleAdmin     = "ADMIN"
	RoleUser      = "USER"
	RoleModerator = "MODERATOR"
)

// BuiltinPermissions is the permission catalog created by Seed.
var BuiltinPermissions = []Permission{
	{Name: PermReadUser, Description: "Read user accounts"},
	{Name: PermCreateUser, Description: "Create user accounts"},
	{Name: PermUpdateUser, Description: "Update user accounts"},
	{Name: PermDeleteUser, Description: "Delete user accounts and revoke their sessions"},
	{Name: PermManageRoles, Description: "Manage roles and role assignments"},
	{Name: PermManagePermissions, Description: "Manage the permission catalog"},
	{Name: PermReadAdmin, Description: "Read administrative resources"},
	{Name: PermWriteAdmin, Description: "Write administrative resources"},
	{Name: PermDeleteAdmin, Description: "Delete administrative resources"},
}

// builtinRoles maps each seeded role to its permissions. A nil slice means
// every permission in the catalog.
var builtinRoles = []struct {
	name        string
	description string
	permissions []string
}{
	{name: RoleAdmin, description: "Full administrative access", permissions: nil},
	{name: RoleUser, description: "Default least-privilege role", permissions: []string{PermReadUser}},
	{name: RoleModerator, description: "User moderation", permissions: []string{PermReadUser, PermUpdateUser}},
}

package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"tollgate.dev/internal/auth"
)

type createUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Enabled  *bool    `json:"enabled"`
	Roles    []string `json:"roles"`
}

type updateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Enabled  *bool   `json:"enabled"`
}

type roleNamesRequest struct {
	Roles []string `json:"roles"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type permissionNamesRequest struct {
	Permissions []string `json:"permissions"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) rbacRoutes(r *mux.Router) {
	guard := func(authority string, fn http.HandlerFunc) http.Handler {
		return RequireAuthority(authority)(fn)
	}

	// literal segments before {id}
	r.Handle("/v1/users/username/{username}", guard(auth.PermReadUser, a.handleGetUserByUsername)).Methods(http.MethodGet)
	r.Handle("/v1/users", guard(auth.PermReadUser, a.handleListUsers)).Methods(http.MethodGet)
	r.Handle("/v1/users", guard(auth.PermCreateUser, a.handleCreateUser)).Methods(http.MethodPost)
	r.Handle("/v1/users/{id}", guard(auth.PermReadUser, a.handleGetUser)).Methods(http.MethodGet)
	r.Handle("/v1/users/{id}", guard(auth.PermUpdateUser, a.handleUpdateUser)).Methods(http.MethodPut)
	r.Handle("/v1/users/{id}", guard(auth.PermDeleteUser, a.handleDeleteUser)).Methods(http.MethodDelete)
	r.Handle("/v1/users/{id}/enable", guard(auth.PermUpdateUser, a.handleSetEnabled(true))).Methods(http.MethodPut)
	r.Handle("/v1/users/{id}/disable", guard(auth.PermUpdateUser, a.handleSetEnabled(false))).Methods(http.MethodPut)
	r.Handle("/v1/users/{id}/sessions", guard(auth.PermDeleteUser, a.handleRevokeSessions)).Methods(http.MethodDelete)
	r.Handle("/v1/users/{id}/roles/assign", guard(auth.PermManageRoles, a.handleUserRoles(true))).Methods(http.MethodPost)
	r.Handle("/v1/users/{id}/roles/remove", guard(auth.PermManageRoles, a.handleUserRoles(false))).Methods(http.MethodPost)

	r.Handle("/v1/roles/name/{name}", guard(auth.PermManageRoles, a.handleGetRoleByName)).Methods(http.MethodGet)
	r.Handle("/v1/roles", guard(auth.PermManageRoles, a.handleListRoles)).Methods(http.MethodGet)
	r.Handle("/v1/roles", guard(auth.PermManageRoles, a.handleCreateRole)).Methods(http.MethodPost)
	r.Handle("/v1/roles/{id}", guard(auth.PermManageRoles, a.handleGetRole)).Methods(http.MethodGet)
	r.Handle("/v1/roles/{id}", guard(auth.PermManageRoles, a.handleUpdateRole)).Methods(http.MethodPut)
	r.Handle("/v1/roles/{id}", guard(auth.PermManageRoles, a.handleDeleteRole)).Methods(http.MethodDelete)
	r.Handle("/v1/roles/{id}/permissions/assign", guard(auth.PermManageRoles, a.handleRolePermissions(true))).Methods(http.MethodPost)
	r.Handle("/v1/roles/{id}/permissions/remove", guard(auth.PermManageRoles, a.handleRolePermissions(false))).Methods(http.MethodPost)

	r.Handle("/v1/permissions", guard(auth.PermManagePermissions, a.handleListPermissions)).Methods(http.MethodGet)
	r.Handle("/v1/permissions", guard(auth.PermManagePermissions, a.handleCreatePermission)).Methods(http.MethodPost)
	r.Handle("/v1/permissions/{id}", guard(auth.PermManagePermissions, a.handleGetPermission)).Methods(http.MethodGet)
	r.Handle("/v1/permissions/{id}", guard(auth.PermManagePermissions, a.handleDeletePermission)).Methods(http.MethodDelete)
}

// --- identities ---

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.rbac.ListIdentities(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.Identity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetIdentity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleGetUserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := a.rbac.GetIdentityByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	user, err := a.rbac.CreateIdentity(r.Context(), auth.NewIdentity{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Enabled:  enabled,
		Roles:    req.Roles,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.create", "identity", user.ID, map[string]any{
		"username": user.Username,
		"roles":    user.Roles,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.UpdateIdentity(r.Context(), mux.Vars(r)["id"], auth.IdentityUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Enabled:  req.Enabled,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.update", "identity", user.ID, map[string]any{
		"password_changed": req.Password != nil,
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSetEnabled(enabled bool) http.HandlerFunc {
	event := "rbac.user.disable"
	if enabled {
		event = "rbac.user.enable"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.rbac.SetEnabled(r.Context(), mux.Vars(r)["id"], enabled)
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r.Context(), event, "identity", user.ID, nil)
		writeJSON(w, http.StatusOK, user)
	}
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.rbac.DeleteIdentity(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.delete", "identity", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeSessions reports partial revocation as a 500 carrying the
// report so the caller can see which sessions survived.
func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.rbac.GetIdentity(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	report, err := a.auth.RevokeAllUserTokens(r.Context(), id)
	a.audit(r.Context(), "auth.sessions.revoke_all", "identity", id, map[string]any{
		"found":   report.Found,
		"revoked": report.Revoked,
		"failed":  len(report.Failed),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      "session revocation incomplete",
			"request_id": RequestIDFromContext(r.Context()),
			"report":     report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleUserRoles(assign bool) http.HandlerFunc {
	event := "rbac.user.roles.remove"
	if assign {
		event = "rbac.user.roles.assign"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req roleNamesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id := mux.Vars(r)["id"]
		var (
			user auth.Identity
			err  error
		)
		if assign {
			user, err = a.rbac.AssignRoles(r.Context(), id, req.Roles)
		} else {
			user, err = a.rbac.RemoveRoles(r.Context(), id, req.Roles)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r.Context(), event, "identity", user.ID, map[string]any{
			"roles": req.Roles,
		})
		writeJSON(w, http.StatusOK, user)
	}
}

// --- roles ---

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleGetRoleByName(w http.ResponseWriter, r *http.Request) {
	role, err := a.rbac.GetRoleByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.create", "role", role.ID, map[string]any{
		"name": role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.UpdateRole(r.Context(), mux.Vars(r)["id"], auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.update", "role", role.ID, map[string]any{
		"name": role.Name,
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.rbac.DeleteRole(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.delete", "role", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePermissions(assign bool) http.HandlerFunc {
	event := "rbac.role.permissions.remove"
	if assign {
		event = "rbac.role.permissions.assign"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req permissionNamesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		id := mux.Vars(r)["id"]
		var (
			role auth.Role
			err  error
		)
		if assign {
			role, err = a.rbac.AssignPermissions(r.Context(), id, req.Permissions)
		} else {
			role, err = a.rbac.RemovePermissions(r.Context(), id, req.Permissions)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		a.audit(r.Context(), event, "role", role.ID, map[string]any{
			"permissions": req.Permissions,
		})
		writeJSON(w, http.StatusOK, role)
	}
}

// --- permissions ---

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := a.rbac.GetPermission(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.rbac.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.permission.create", "permission", perm.ID, map[string]any{
		"name": perm.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.rbac.DeletePermission(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.permission.delete", "permission", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

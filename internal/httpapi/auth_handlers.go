package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"tollgate.dev/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type validateResponse struct {
	Valid       bool       `json:"valid"`
	SubjectID   string     `json:"subject_id,omitempty"`
	Username    string     `json:"username,omitempty"`
	Authorities []string   `json:"authorities,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := a.auth.Register(r.Context(), auth.Registration{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.register", "identity", ident.ID, map[string]any{
		"username": ident.Username,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", ident.ID))
	writeJSON(w, http.StatusCreated, ident)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Login(r.Context(), req.Username, req.Password, auth.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.audit(r.Context(), "auth.login.failed", "identity", "", map[string]any{
				"username":  req.Username,
				"remote_ip": clientIP(r),
			})
		}
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.login", "session", sess.SessionID, map[string]any{
		"username":   req.Username,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, sess)
}

// handleLogout revokes the token authenticate resolved for this request.
// Nothing downstream of it sees the principal afterwards.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		unauthenticated(w, r, msgUnauthenticated)
		return
	}
	rec, err := a.auth.Logout(r.Context(), token)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout", "session", rec.ID, map[string]any{
		"subject_id": rec.SubjectID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleValidate answers whether the bearer token is currently usable.
// Unusable tokens get valid=false rather than an error status.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{})
		return
	}
	p, err := a.auth.Validate(r.Context(), token)
	if err != nil {
		if auth.IsTokenFailure(err) {
			writeJSON(w, http.StatusOK, validateResponse{})
			return
		}
		handleError(w, r, err)
		return
	}
	exp := p.ExpiresAt
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:       true,
		SubjectID:   p.SubjectID,
		Username:    p.Username,
		Authorities: p.AuthorityList(),
		ExpiresAt:   &exp,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthenticated(w, r, msgUnauthenticated)
		return
	}
	recs, err := a.auth.Sessions(r.Context(), p.SubjectID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if recs == nil {
		recs = []auth.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs})
}

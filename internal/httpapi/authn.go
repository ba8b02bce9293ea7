package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tollgate.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate resolves the bearer token into a principal. Requests that
// reach a protected route without a usable token stop here.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthenticated(w, r, msgUnauthenticated)
			return
		}

		principal, err := a.auth.Validate(r.Context(), token)
		if err != nil {
			handleError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuthority guards next with a single authority check.
func RequireAuthority(authority string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.Authorize(r.Context(), authority); err != nil {
				handleError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole is RequireAuthority for ROLE_<role>.
func RequireRole(role string) func(http.Handler) http.Handler {
	return RequireAuthority(auth.RoleAuthority(role))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

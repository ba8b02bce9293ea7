package auth

import (
	"context"
	"time"
)

// Principal is the authenticated caller of a request. Its authorities come
// from the token claims, not from storage.
type Principal struct {
	SubjectID   string
	Username    string
	TokenID     string
	ExpiresAt   time.Time
	Authorities map[string]struct{}
}

// NewPrincipal builds a principal from verified claims.
func NewPrincipal(claims *Claims) Principal {
	set := make(map[string]struct{}, len(claims.Authorities))
	for _, a := range claims.Authorities {
		set[a] = struct{}{}
	}
	p := Principal{
		SubjectID:   claims.Subject,
		Username:    claims.Username,
		TokenID:     claims.ID,
		Authorities: set,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}

// HasAuthority reports whether the principal holds the authority string.
func (p Principal) HasAuthority(authority string) bool {
	_, ok := p.Authorities[authority]
	return ok
}

// HasRole reports whether the principal holds ROLE_<role>.
func (p Principal) HasRole(role string) bool {
	return p.HasAuthority(RoleAuthority(role))
}

// AuthorityList returns the authorities in sorted order.
func (p Principal) AuthorityList() []string {
	return sortedKeys(p.Authorities)
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Authorize checks the principal in ctx for the required authority.
// A missing principal yields ErrUnauthenticated, a missing authority
// ErrForbidden.
func Authorize(ctx context.Context, authority string) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if !p.HasAuthority(authority) {
		return Principal{}, ErrForbidden
	}
	return p, nil
}

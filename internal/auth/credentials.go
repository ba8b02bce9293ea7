package auth

import (
	"context"
	"errors"
	"strings"
)

// dummyHash is compared against when the username is unknown so that
// missing accounts and wrong passwords take comparable time.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOa5fGZmF3iYG6p7rt0s1kjXoyN5bS9iK"

// CredentialVerifier checks username/password pairs against stored identities.
type CredentialVerifier struct {
	store  RBACStore
	hasher PasswordHasher
}

// NewCredentialVerifier constructs a verifier.
func NewCredentialVerifier(store RBACStore, hasher PasswordHasher) *CredentialVerifier {
	return &CredentialVerifier{store: store, hasher: hasher}
}

// Verify returns the identity for a correct, enabled account. Unknown
// usernames, disabled accounts and wrong passwords all return
// ErrInvalidCredentials. Store failures other than not-found are returned
// as is.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}
	ident, err := v.store.GetIdentityByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			v.hasher.Verify(dummyHash, password)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if !v.hasher.Verify(ident.PasswordHash, password) {
		return Identity{}, ErrInvalidCredentials
	}
	if !ident.Enabled {
		return Identity{}, ErrInvalidCredentials
	}
	return ident, nil
}

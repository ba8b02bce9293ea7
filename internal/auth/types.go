package auth

import "time"

// Identity is a user account that can authenticate and hold roles.
type Identity struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Enabled      bool      `json:"enabled"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRole reports whether the identity carries the named role.
func (i Identity) HasRole(name string) bool {
	for _, r := range i.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Role groups permissions. Permissions holds permission names; the
// association itself is stored as (role id, permission id) pairs.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a flat capability name.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionRecord is the ledger's bookkeeping entry for one issued token.
// Only a hash of the token is kept.
type SessionRecord struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Active reports whether the record is neither revoked nor past its expiry.
func (r SessionRecord) Active(now time.Time) bool {
	return !r.Revoked && !now.After(r.ExpiresAt)
}

// IdentityUpdate carries optional identity mutations. Password holds the
// already hashed value once it reaches a store.
type IdentityUpdate struct {
	Username *string
	Email    *string
	Password *string
	Enabled  *bool
}

// RoleUpdate carries optional role mutations.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// RequestMeta describes where a login came from.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

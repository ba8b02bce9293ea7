package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. Ledger records and
// token ids use it so that listings come back in issuance order.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewIdentity returns a random UUID for identity rows.
func NewIdentity() string {
	return uuid.NewString()
}

// ValidIdentity reports whether id is a well-formed identity UUID.
func ValidIdentity(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

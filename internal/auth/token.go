package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/blake3"

	"tollgate.dev/internal/ids"
)

const (
	defaultIssuer   = "tollgate"
	defaultTokenTTL = time.Hour
	minSecretLength = 32
)

// Claims are the signed contents of a session token.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

// Codec creates and parses HS256 session tokens.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// CodecOption configures a Codec.
type CodecOption func(*Codec) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures the fixed token lifetime.
func WithTokenTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl < 0 {
			return errors.New("auth: token ttl must not be negative")
		}
		if ttl > 0 {
			c.ttl = ttl
		}
		return nil
	}
}

// NewCodec constructs a Codec signing with secret.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", minSecretLength)
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Issue signs a token for ident carrying authorities. The returned claims
// hold the exact issued-at and expiry encoded in the token.
func (c *Codec) Issue(ident Identity, authorities []string, now time.Time) (string, *Claims, error) {
	if strings.TrimSpace(ident.ID) == "" {
		return "", nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	issued := jwt.NewNumericDate(now.UTC())
	claims := &Claims{
		Username:    ident.Username,
		Authorities: dedupeStrings(authorities),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   ident.ID,
			IssuedAt:  issued,
			NotBefore: issued,
			ExpiresAt: jwt.NewNumericDate(issued.Add(c.ttl)),
			ID:        ids.New(),
		},
	}
	if claims.Authorities == nil {
		claims.Authorities = []string{}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies the signature and then the time window of token as seen at
// now. Signature or structure problems yield ErrTokenMalformed; a valid
// token with now after its expiry yields ErrTokenExpired. At the expiry
// instant itself the token is still accepted.
func (c *Codec) Parse(token string, now time.Time) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		// jwt treats now == exp as expired; a token is expired only once
		// now is strictly after exp.
		jwt.WithLeeway(time.Nanosecond),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		// Signatures are checked before claims, so an expiry error means
		// the token itself is authentic.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// HashToken derives the ledger key for a token. Raw tokens are never stored.
func HashToken(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"tollgate.dev/internal/ids"
	"tollgate.dev/internal/obs"
)

const maxPasswordBytes = 72

// Service orchestrates registration, login, logout and token validation.
type Service struct {
	store       RBACStore
	ledger      *Ledger
	codec       *Codec
	hasher      PasswordHasher
	verifier    *CredentialVerifier
	now         func() time.Time
	defaultRole string
	logger      *slog.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher replaces the default bcrypt hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: hasher must not be nil")
		}
		s.hasher = h
		return nil
	}
}

// WithDefaultRole sets the role given to self-registered identities.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) error {
		name = strings.TrimSpace(name)
		if name != "" {
			s.defaultRole = name
		}
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store RBACStore, ledgerStore LedgerStore, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: rbac store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	svc := &Service{
		store:       store,
		codec:       codec,
		hasher:      NewBcryptHasher(0),
		now:         time.Now,
		defaultRole: RoleUser,
		logger:      obs.Logger(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	ledger, err := NewLedger(ledgerStore, svc.now, svc.logger)
	if err != nil {
		return nil, err
	}
	svc.ledger = ledger
	svc.verifier = NewCredentialVerifier(store, svc.hasher)
	return svc, nil
}

// Ledger exposes the revocation ledger, e.g. for the sweep loop.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Registration is a self-service sign-up request.
type Registration struct {
	Username string
	Email    string
	Password string
}

// Register creates an identity holding the default role.
func (s *Service) Register(ctx context.Context, reg Registration) (Identity, error) {
	username, email, err := normalizeAccount(reg.Username, reg.Email)
	if err != nil {
		return Identity{}, err
	}
	if err := validatePassword(reg.Password); err != nil {
		return Identity{}, err
	}
	if err := checkAvailable(ctx, s.store, username, email); err != nil {
		return Identity{}, err
	}
	role, err := s.store.GetRoleByName(ctx, s.defaultRole)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, fmt.Errorf("default role %s: %w", s.defaultRole, ErrNotFound)
		}
		return Identity{}, err
	}
	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	ident, err := s.store.CreateIdentity(ctx, Identity{
		ID:           ids.NewIdentity(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Enabled:      true,
	}, []string{role.ID})
	if err != nil {
		return Identity{}, err
	}
	s.logger.InfoContext(ctx, "identity registered", "identity_id", ident.ID, "username", ident.Username)
	return ident, nil
}

// Session is the result of a successful login.
type Session struct {
	Token       string    `json:"token"`
	TokenType   string    `json:"token_type"`
	SessionID   string    `json:"session_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Authorities []string  `json:"authorities"`
}

// Login verifies credentials, mints a token carrying the identity's current
// authorities and records it in the ledger.
func (s *Service) Login(ctx context.Context, username, password string, meta RequestMeta) (Session, error) {
	ident, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			obs.LoginAttempt("invalid_credentials")
		} else {
			obs.LoginAttempt("error")
		}
		return Session{}, err
	}
	roles, err := s.store.IdentityRoles(ctx, ident.ID)
	if err != nil {
		obs.LoginAttempt("error")
		return Session{}, fmt.Errorf("resolve roles: %w", err)
	}
	authorities := ResolveAuthorities(roles)

	token, claims, err := s.codec.Issue(ident, authorities, s.now())
	if err != nil {
		obs.LoginAttempt("error")
		return Session{}, err
	}
	sessionID, err := s.ledger.Record(ctx, ident.ID, token, claims.IssuedAt.Time, claims.ExpiresAt.Time, meta)
	if err != nil {
		obs.LoginAttempt("error")
		return Session{}, err
	}
	obs.LoginAttempt("success")
	s.logger.InfoContext(ctx, "identity logged in", "identity_id", ident.ID, "session_id", sessionID)
	return Session{
		Token:       token,
		TokenType:   "Bearer",
		SessionID:   sessionID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
		Authorities: claims.Authorities,
	}, nil
}

// Logout revokes token. It returns ErrTokenNotFound when the ledger has no
// record of it.
func (s *Service) Logout(ctx context.Context, token string) (SessionRecord, error) {
	rec, err := s.ledger.Revoke(ctx, token)
	if err != nil {
		return SessionRecord{}, err
	}
	s.logger.InfoContext(ctx, "session revoked", "identity_id", rec.SubjectID, "session_id", rec.ID)
	return rec, nil
}

// Validate returns the principal for a usable token: valid signature, not
// expired, known to the ledger and not revoked. Authorities come from the
// token claims.
func (s *Service) Validate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.codec.Parse(token, s.now())
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			obs.TokenCheck("expired")
		default:
			obs.TokenCheck("malformed")
			s.logger.WarnContext(ctx, "rejected malformed token", "error", err)
		}
		return Principal{}, err
	}
	if s.ledger.IsRevoked(ctx, token) {
		obs.TokenCheck("revoked")
		return Principal{}, ErrTokenRevoked
	}
	obs.TokenCheck("valid")
	return NewPrincipal(claims), nil
}

// IsTokenRevoked reports the ledger view of token, failing closed.
func (s *Service) IsTokenRevoked(ctx context.Context, token string) bool {
	return s.ledger.IsRevoked(ctx, token)
}

// RevokeAllUserTokens revokes every active session of the identity. See
// Ledger.RevokeAllForSubject for the partial-failure contract.
func (s *Service) RevokeAllUserTokens(ctx context.Context, identityID string) (RevocationReport, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return RevocationReport{}, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	report, err := s.ledger.RevokeAllForSubject(ctx, identityID)
	if err != nil {
		s.logger.ErrorContext(ctx, "bulk revocation incomplete",
			"identity_id", identityID, "found", report.Found, "revoked", report.Revoked, "error", err)
		return report, err
	}
	s.logger.InfoContext(ctx, "all sessions revoked", "identity_id", identityID, "revoked", report.Revoked)
	return report, nil
}

// Sessions lists the identity's sessions whose tokens are still usable.
func (s *Service) Sessions(ctx context.Context, identityID string) ([]SessionRecord, error) {
	return s.ledger.FindLiveBySubject(ctx, identityID)
}

func normalizeAccount(username, email string) (string, string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 64 {
		return "", "", fmt.Errorf("%w: username must be 3-64 characters", ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return "", "", fmt.Errorf("%w: username must not contain whitespace", ErrInvalidInput)
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return "", "", err
	}
	return username, email, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}

// checkAvailable is the early duplicate check. The store's unique indexes
// remain the final guard against concurrent registrations.
func checkAvailable(ctx context.Context, store RBACStore, username, email string) error {
	if username != "" {
		taken, err := store.UsernameExists(ctx, username)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateUsername
		}
	}
	if email != "" {
		taken, err := store.EmailExists(ctx, email)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateEmail
		}
	}
	return nil
}

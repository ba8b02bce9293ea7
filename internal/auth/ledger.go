package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tollgate.dev/internal/ids"
	"tollgate.dev/internal/obs"
)

// Ledger tracks issued tokens and their revocation state. A token that the
// ledger does not know is treated as revoked.
type Ledger struct {
	store  LedgerStore
	now    func() time.Time
	logger *slog.Logger
}

// NewLedger wraps store.
func NewLedger(store LedgerStore, now func() time.Time, logger *slog.Logger) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Ledger{store: store, now: now, logger: logger}, nil
}

// Record appends a new, non-revoked entry for token and returns its id.
func (l *Ledger) Record(ctx context.Context, subjectID, token string, issuedAt, expiresAt time.Time, meta RequestMeta) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || token == "" {
		return "", fmt.Errorf("%w: subject and token are required", ErrInvalidInput)
	}
	rec := SessionRecord{
		ID:        ids.New(),
		SubjectID: subjectID,
		TokenHash: HashToken(token),
		IssuedAt:  issuedAt.UTC(),
		ExpiresAt: expiresAt.UTC(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := l.store.InsertSession(ctx, rec); err != nil {
		return "", fmt.Errorf("record session: %w", err)
	}
	return rec.ID, nil
}

// FindByToken returns the record for token or ErrTokenNotFound.
func (l *Ledger) FindByToken(ctx context.Context, token string) (SessionRecord, error) {
	if token == "" {
		return SessionRecord{}, ErrTokenNotFound
	}
	rec, err := l.store.SessionByTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return SessionRecord{}, ErrTokenNotFound
	}
	return rec, err
}

// FindActiveBySubject lists the subject's records that are not revoked,
// including ones past their expiry that have not been swept yet.
func (l *Ledger) FindActiveBySubject(ctx context.Context, subjectID string) ([]SessionRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	return l.store.UnrevokedSessionsBySubject(ctx, subjectID)
}

// FindLiveBySubject narrows FindActiveBySubject to records whose tokens
// are still usable now.
func (l *Ledger) FindLiveBySubject(ctx context.Context, subjectID string) ([]SessionRecord, error) {
	records, err := l.FindActiveBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	live := records[:0]
	for _, rec := range records {
		if rec.Active(now) {
			live = append(live, rec)
		}
	}
	return live, nil
}

// Revoke marks the record for token revoked. Revoking an already revoked
// token succeeds.
func (l *Ledger) Revoke(ctx context.Context, token string) (SessionRecord, error) {
	rec, err := l.FindByToken(ctx, token)
	if err != nil {
		return SessionRecord{}, err
	}
	if err := l.store.MarkSessionRevoked(ctx, rec.TokenHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return SessionRecord{}, ErrTokenNotFound
		}
		return SessionRecord{}, fmt.Errorf("revoke session %s: %w", rec.ID, err)
	}
	obs.TokensRevoked(1)
	rec.Revoked = true
	return rec, nil
}

// IsRevoked fails closed: unknown tokens and lookup failures count as revoked.
func (l *Ledger) IsRevoked(ctx context.Context, token string) bool {
	rec, err := l.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.ErrorContext(ctx, "ledger lookup failed", "error", err)
		}
		return true
	}
	return rec.Revoked
}

// RevocationReport summarises a bulk revocation.
type RevocationReport struct {
	SubjectID string   `json:"subject_id"`
	Found     int      `json:"found"`
	Revoked   int      `json:"revoked"`
	Failed    []string `json:"failed,omitempty"`
}

// Complete reports whether every found record ended up revoked.
func (r RevocationReport) Complete() bool {
	return len(r.Failed) == 0 && r.Revoked == r.Found
}

// RevokeAllForSubject revokes every unrevoked record of the subject, expired or not. It is
// best effort and not atomic: a failure on one record does not stop the
// others. Failed record ids are listed in the report and the joined error
// is returned alongside it.
func (l *Ledger) RevokeAllForSubject(ctx context.Context, subjectID string) (RevocationReport, error) {
	report := RevocationReport{SubjectID: subjectID}
	records, err := l.FindActiveBySubject(ctx, subjectID)
	if err != nil {
		return report, err
	}
	report.Found = len(records)

	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, rec.ID)
			errs = append(errs, fmt.Errorf("session %s: %w", rec.ID, err))
			continue
		}
		if err := l.store.MarkSessionRevoked(ctx, rec.TokenHash); err != nil {
			report.Failed = append(report.Failed, rec.ID)
			errs = append(errs, fmt.Errorf("session %s: %w", rec.ID, err))
			continue
		}
		report.Revoked++
	}
	obs.TokensRevoked(report.Revoked)
	if len(errs) > 0 {
		return report, fmt.Errorf("revoke sessions for %s: %d of %d failed: %w",
			subjectID, len(errs), report.Found, errors.Join(errs...))
	}
	return report, nil
}

// Sweep deletes records whose natural expiry passed. Expired tokens are
// rejected by the codec, so this only reclaims space.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	return l.store.DeleteExpiredSessions(ctx, l.now())
}

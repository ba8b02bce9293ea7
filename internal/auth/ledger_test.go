package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/store/memory"
)

// flakyLedger fails selected operations on top of the memory store.
type flakyLedger struct {
	*memory.Store
	lookupErr  error
	failRevoke map[string]bool
}

func (f *flakyLedger) SessionByTokenHash(ctx context.Context, hash string) (auth.SessionRecord, error) {
	if f.lookupErr != nil {
		return auth.SessionRecord{}, f.lookupErr
	}
	return f.Store.SessionByTokenHash(ctx, hash)
}

func (f *flakyLedger) MarkSessionRevoked(ctx context.Context, hash string) error {
	if f.failRevoke[hash] {
		return errors.New("write timeout")
	}
	return f.Store.MarkSessionRevoked(ctx, hash)
}

func newLedger(t *testing.T, store auth.LedgerStore, now time.Time) *auth.Ledger {
	t.Helper()
	l, err := auth.NewLedger(store, func() time.Time { return now }, nil)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func TestLedgerFailsClosed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &flakyLedger{Store: memory.New()}
	l := newLedger(t, store, now)

	if _, err := l.Record(ctx, "u1", "tok-1", now, now.Add(time.Hour), auth.RequestMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if l.IsRevoked(ctx, "tok-1") {
		t.Fatal("fresh token should not be revoked")
	}
	if !l.IsRevoked(ctx, "tok-unknown") {
		t.Fatal("unknown token must count as revoked")
	}
	store.lookupErr = errors.New("connection refused")
	if !l.IsRevoked(ctx, "tok-1") {
		t.Fatal("lookup failure must count as revoked")
	}
}

func TestLedgerRecordStoresHashOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memory.New()
	l := newLedger(t, store, now)
	id, err := l.Record(ctx, "u1", "raw-token", now, now.Add(time.Hour), auth.RequestMeta{IPAddress: "10.1.1.1"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	rec, err := store.SessionByTokenHash(ctx, auth.HashToken("raw-token"))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if rec.ID != id || rec.TokenHash == "raw-token" || rec.IPAddress != "10.1.1.1" || rec.Revoked {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := l.Record(ctx, "", "x", now, now, auth.RequestMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLedgerRevokeAllPartialFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &flakyLedger{Store: memory.New(), failRevoke: map[string]bool{}}
	l := newLedger(t, store, now)

	for i, tok := range []string{"t1", "t2", "t3"} {
		issued := now.Add(time.Duration(i) * time.Second)
		if _, err := l.Record(ctx, "u1", tok, issued, issued.Add(time.Hour), auth.RequestMeta{}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := l.Record(ctx, "u2", "other", now, now.Add(time.Hour), auth.RequestMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	store.failRevoke[auth.HashToken("t2")] = true

	report, err := l.RevokeAllForSubject(ctx, "u1")
	if err == nil {
		t.Fatal("expected partial failure error")
	}
	if report.Found != 3 || report.Revoked != 2 || len(report.Failed) != 1 || report.Complete() {
		t.Fatalf("unexpected report %+v", report)
	}
	if !l.IsRevoked(ctx, "t1") || !l.IsRevoked(ctx, "t3") {
		t.Fatal("records after the failure should still be revoked")
	}
	if l.IsRevoked(ctx, "t2") {
		t.Fatal("failed record should remain active")
	}
	if l.IsRevoked(ctx, "other") {
		t.Fatal("other subject must be untouched")
	}

	delete(store.failRevoke, auth.HashToken("t2"))
	report, err = l.RevokeAllForSubject(ctx, "u1")
	if err != nil || report.Found != 1 || !report.Complete() {
		t.Fatalf("retry should finish the job: %+v %v", report, err)
	}
}

func TestLedgerSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := memory.New()
	l := newLedger(t, store, now)
	_, _ = l.Record(ctx, "u1", "old", now.Add(-2*time.Hour), now.Add(-time.Hour), auth.RequestMeta{})
	_, _ = l.Record(ctx, "u1", "new", now, now.Add(time.Hour), auth.RequestMeta{})
	n, err := l.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if _, err := l.FindByToken(ctx, "old"); !errors.Is(err, auth.ErrTokenNotFound) {
		t.Fatalf("expected swept record gone, got %v", err)
	}
}

func TestLedgerRevokeAllIncludesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := memory.New()
	l := newLedger(t, store, now)

	if _, err := l.Record(ctx, "u1", "live", now, now.Add(time.Hour), auth.RequestMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := l.Record(ctx, "u1", "old", now.Add(-2*time.Hour), now.Add(-time.Hour), auth.RequestMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}

	live, err := l.FindLiveBySubject(ctx, "u1")
	if err != nil || len(live) != 1 {
		t.Fatalf("live sessions: %+v %v", live, err)
	}

	report, err := l.RevokeAllForSubject(ctx, "u1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if report.Found != 2 || report.Revoked != 2 || !report.Complete() {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, tok := range []string{"live", "old"} {
		rec, err := l.FindByToken(ctx, tok)
		if err != nil {
			t.Fatalf("find %s: %v", tok, err)
		}
		if !rec.Revoked {
			t.Fatalf("record for %q not revoked", tok)
		}
	}
	left, err := l.FindActiveBySubject(ctx, "u1")
	if err != nil || len(left) != 0 {
		t.Fatalf("expected no unrevoked records, got %+v %v", left, err)
	}
}

func TestLedgerRecordUsableAtExpiryInstant(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := newLedger(t, memory.New(), now)
	if _, err := l.Record(ctx, "u1", "edge", now.Add(-time.Hour), now, auth.RequestMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	live, err := l.FindLiveBySubject(ctx, "u1")
	if err != nil || len(live) != 1 {
		t.Fatalf("record expiring now should still be live: %+v %v", live, err)
	}
	if n, err := l.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("sweep removed a record at its expiry instant: n=%d err=%v", n, err)
	}
}

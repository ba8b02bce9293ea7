package memory

import (
	"context"
	"sort"
	"time"

	"tollgate.dev/internal/auth"
)

func (s *Store) InsertSession(ctx context.Context, rec auth.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.TokenHash]; ok {
		return auth.ErrConflict
	}
	s.sessions[rec.TokenHash] = rec
	idx := s.bySubject[rec.SubjectID]
	if idx == nil {
		idx = make(map[string]struct{})
		s.bySubject[rec.SubjectID] = idx
	}
	idx[rec.TokenHash] = struct{}{}
	return nil
}

func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash string) (auth.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[tokenHash]
	if !ok {
		return auth.SessionRecord{}, auth.ErrNotFound
	}
	return rec, nil
}

func (s *Store) UnrevokedSessionsBySubject(ctx context.Context, subjectID string) ([]auth.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.SessionRecord
	for hash := range s.bySubject[subjectID] {
		if rec := s.sessions[hash]; !rec.Revoked {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *Store) MarkSessionRevoked(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[tokenHash]
	if !ok {
		return auth.ErrNotFound
	}
	rec.Revoked = true
	s.sessions[tokenHash] = rec
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, rec := range s.sessions {
		if !rec.ExpiresAt.Before(before) {
			continue
		}
		delete(s.sessions, hash)
		delete(s.bySubject[rec.SubjectID], hash)
		if len(s.bySubject[rec.SubjectID]) == 0 {
			delete(s.bySubject, rec.SubjectID)
		}
		n++
	}
	return n, nil
}

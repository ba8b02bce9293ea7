package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tollgate.dev/internal/auth"
)

const sessionColumns = `id, subject_id, token_hash, issued_at, expires_at, revoked, ip_address, user_agent`

func (s *Store) InsertSession(ctx context.Context, rec auth.SessionRecord) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into session_tokens (id, subject_id, token_hash, issued_at, expires_at, revoked, ip_address, user_agent)
		values ($1, $2, $3, $4, $5, false, $6, $7)
	`, rec.ID, rec.SubjectID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt, nullIfEmpty(rec.IPAddress), nullIfEmpty(rec.UserAgent))
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash string) (auth.SessionRecord, error) {
	if s.db == nil {
		return auth.SessionRecord{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from session_tokens where token_hash = $1`, tokenHash)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SessionRecord{}, auth.ErrNotFound
	}
	return rec, err
}

func (s *Store) UnrevokedSessionsBySubject(ctx context.Context, subjectID string) ([]auth.SessionRecord, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from session_tokens
		where subject_id = $1 and revoked = false
		order by issued_at, id
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSessionRevoked only ever sets the flag; there is no statement that clears it.
func (s *Store) MarkSessionRevoked(ctx context.Context, tokenHash string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update session_tokens set revoked = true where token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from session_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (auth.SessionRecord, error) {
	var (
		rec    auth.SessionRecord
		ip, ua sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.SubjectID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked, &ip, &ua); err != nil {
		return auth.SessionRecord{}, err
	}
	rec.IPAddress = ip.String
	rec.UserAgent = ua.String
	return rec, nil
}

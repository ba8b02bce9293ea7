// Package redisledger stores ledger records in Redis. Each record is a hash
// keyed by token hash that expires with the token; a per-subject set indexes
// the hashes issued to one identity.
package redisledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tollgate.dev/internal/auth"
	"tollgate.dev/internal/obs"
)

var _ auth.LedgerStore = (*Store)(nil)

const defaultPrefix = "tollgate"

const insertScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "subject", ARGV[2], "issued", ARGV[3], "expires", ARGV[4],
  "revoked", "0", "ip", ARGV[5], "ua", ARGV[6])
redis.call("PEXPIREAT", KEYS[1], ARGV[7])
redis.call("SADD", KEYS[2], ARGV[8])
return 1
`

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

var (
	insertLua = redis.NewScript(insertScript)
	revokeLua = redis.NewScript(revokeScript)
)

type Store struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
}

type Option func(*Store)

// WithLogger replaces the shared obs logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New wraps rdb. Keys are namespaced under prefix.
func New(rdb redis.UniversalClient, prefix string, opts ...Option) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	s := &Store{rdb: rdb, prefix: prefix, logger: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) tokenKey(hash string) string      { return s.prefix + ":tok:" + hash }
func (s *Store) subjectKey(subject string) string { return s.prefix + ":sub:" + subject }

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) InsertSession(ctx context.Context, rec auth.SessionRecord) error {
	res, err := insertLua.Run(ctx, s.rdb,
		[]string{s.tokenKey(rec.TokenHash), s.subjectKey(rec.SubjectID)},
		rec.ID, rec.SubjectID,
		rec.IssuedAt.UnixNano(), rec.ExpiresAt.UnixNano(),
		rec.IPAddress, rec.UserAgent,
		rec.ExpiresAt.UnixMilli()+1, rec.TokenHash,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis insert session: %w", err)
	}
	if res == 0 {
		return auth.ErrConflict
	}
	return nil
}

func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash string) (auth.SessionRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(tokenHash)).Result()
	if err != nil {
		return auth.SessionRecord{}, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return auth.SessionRecord{}, auth.ErrNotFound
	}
	return decode(tokenHash, fields)
}

// UnrevokedSessionsBySubject loads the subject's index. Records evicted by
// their PEXPIREAT are pruned from the index on the way.
func (s *Store) UnrevokedSessionsBySubject(ctx context.Context, subjectID string) ([]auth.SessionRecord, error) {
	subKey := s.subjectKey(subjectID)
	hashes, err := s.rdb.SMembers(ctx, subKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis load sessions: %w", err)
	}

	var (
		out   []auth.SessionRecord
		stale []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, hashes[i])
			continue
		}
		rec, err := decode(hashes[i], fields)
		if err != nil {
			return nil, err
		}
		if !rec.Revoked {
			out = append(out, rec)
		}
	}
	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, subKey, stale...).Err(); err != nil {
			s.logger.WarnContext(ctx, "redis ledger index prune failed",
				"subject_id", subjectID, "stale", len(stale), "error", err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *Store) MarkSessionRevoked(ctx context.Context, tokenHash string) error {
	res, err := revokeLua.Run(ctx, s.rdb, []string{s.tokenKey(tokenHash)}).Int64()
	if err != nil {
		return fmt.Errorf("redis revoke session: %w", err)
	}
	if res == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions drops records that expired at or before before and
// prunes subject index entries whose records Redis already evicted.
func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	removed := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+":sub:*", 100).Iterator()
	for iter.Next(ctx) {
		subKey := iter.Val()
		hashes, err := s.rdb.SMembers(ctx, subKey).Result()
		if err != nil {
			return removed, err
		}
		for _, h := range hashes {
			raw, err := s.rdb.HGet(ctx, s.tokenKey(h), "expires").Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return removed, err
			default:
				nanos, perr := strconv.ParseInt(raw, 10, 64)
				if perr == nil && !time.Unix(0, nanos).Before(before) {
					continue
				}
				if err := s.rdb.Del(ctx, s.tokenKey(h)).Err(); err != nil {
					return removed, err
				}
			}
			if err := s.rdb.SRem(ctx, subKey, h).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}

func decode(hash string, f map[string]string) (auth.SessionRecord, error) {
	issued, err := strconv.ParseInt(f["issued"], 10, 64)
	if err != nil {
		return auth.SessionRecord{}, fmt.Errorf("decode session %s: issued: %w", hash, err)
	}
	expires, err := strconv.ParseInt(f["expires"], 10, 64)
	if err != nil {
		return auth.SessionRecord{}, fmt.Errorf("decode session %s: expires: %w", hash, err)
	}
	return auth.SessionRecord{
		ID:        f["id"],
		SubjectID: f["subject"],
		TokenHash: hash,
		IssuedAt:  time.Unix(0, issued).UTC(),
		ExpiresAt: time.Unix(0, expires).UTC(),
		Revoked:   f["revoked"] == "1",
		IPAddress: f["ip"],
		UserAgent: f["ua"],
	}, nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage"
)

const (
	sessionKeyPrefix        = "session:"
	accountSessionKeyPrefix = "account_sessions:"

	maxTxRetries = 16
	scanBatch    = 200
)

var ErrTooMuchContention = errors.New("session update retried too many times")

// SessionRepository stores each session as one JSON value. Writes use
// WATCH/MULTI, so a concurrent writer on the same key forces a re-read and
// the rotation decision is taken again against the fresh record.
type SessionRepository struct {
	client    *redis.Client
	retention time.Duration
}

func NewSessionRepository(client *redis.Client, retention time.Duration) *SessionRepository {
	return &SessionRepository{client: client, retention: retention}
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func accountKey(id uuid.UUID) string {
	return accountSessionKeyPrefix + id.String()
}

// ttl keeps the key around for the retention window past its own expiry so
// reuse of a stale token is still detected shortly after the session ends.
func (r *SessionRepository) ttl(s *models.Session, now time.Time) time.Duration {
	end := s.ExpiresAt
	if s.Revoked {
		end = s.RevokedAt
	}
	ttl := end.Add(r.retention).Sub(now)
	if ttl <= 0 {
		return r.retention
	}
	return ttl
}

func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, r.ttl(s, s.CreatedAt))
	pipe.SAdd(ctx, accountKey(s.AccountID), s.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return load(ctx, r.client, sessionKey(id))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, g getter, key string) (*models.Session, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &s, nil
}

// update reads the session under WATCH, lets fn mutate it and writes it back
// in a MULTI block. fn returns false to skip the write.
func (r *SessionRepository) update(ctx context.Context, id uuid.UUID, now time.Time, fn func(*models.Session) (bool, error)) error {
	key := sessionKey(id)
	txf := func(tx *redis.Tx) error {
		s, err := load(ctx, tx, key)
		if err != nil {
			return err
		}
		dirty, err := fn(s)
		if err != nil || !dirty {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl(s, now))
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTooMuchContention
}

func (r *SessionRepository) RotateRefresh(ctx context.Context, p models.RotateParams) (models.RotateResult, error) {
	var result models.RotateResult
	err := r.update(ctx, p.SessionID, p.Now, func(s *models.Session) (bool, error) {
		status := storage.DecideRotation(s, p)
		storage.ApplyRotation(s, status, p)
		result = models.RotateResult{Status: status, Session: s}
		return status == models.RotateRotated || status == models.RotateReused, nil
	})
	if errors.Is(err, storage.ErrSessionNotFound) {
		return models.RotateResult{Status: models.RotateNotFound}, nil
	}
	if err != nil {
		return models.RotateResult{}, fmt.Errorf("rotate refresh: %w", err)
	}
	return result, nil
}

func (r *SessionRepository) Heartbeat(ctx context.Context, p models.HeartbeatParams) (*models.Session, error) {
	var out *models.Session
	err := r.update(ctx, p.SessionID, p.Now, func(s *models.Session) (bool, error) {
		if err := storage.ApplyHeartbeat(s, p); err != nil {
			return false, err
		}
		out = s
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SessionRepository) ConfirmRotation(ctx context.Context, id uuid.UUID, refreshJTI string, at time.Time) error {
	return r.update(ctx, id, at, func(s *models.Session) (bool, error) {
		return storage.ConfirmRotation(s, refreshJTI), nil
	})
}

func (r *SessionRepository) RevokeSession(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.update(ctx, id, at, func(s *models.Session) (bool, error) {
		if s.Revoked {
			return false, nil
		}
		storage.Revoke(s, reason, at)
		return true, nil
	})
}

func (r *SessionRepository) RevokeAccountSessions(ctx context.Context, accountID uuid.UUID, reason string, at time.Time) (int, error) {
	ids, err := r.client.SMembers(ctx, accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list account sessions: %w", err)
	}

	count := 0
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		revoked := false
		err = r.update(ctx, id, at, func(s *models.Session) (bool, error) {
			if s.Revoked {
				return false, nil
			}
			storage.Revoke(s, reason, at)
			revoked = true
			return true, nil
		})
		if errors.Is(err, storage.ErrSessionNotFound) {
			if err := r.client.SRem(ctx, accountKey(accountID), raw).Err(); err != nil {
				return count, fmt.Errorf("prune account session index: %w", err)
			}
			continue
		}
		if err != nil {
			return count, fmt.Errorf("revoke session %s: %w", id, err)
		}
		if revoked {
			count++
		}
	}
	return count, nil
}

// DeleteExpired walks the session keyspace. Keys also carry their own TTL;
// this pass removes records early once they cross cutoff and prunes the
// per-account indexes.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, sessionKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return count, fmt.Errorf("scan sessions: %w", err)
		}
		for _, key := range keys {
			s, err := load(ctx, r.client, key)
			if errors.Is(err, storage.ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return count, err
			}
			if !s.ExpiresAt.Before(cutoff) && !(s.Revoked && s.RevokedAt.Before(cutoff)) {
				continue
			}
			pipe := r.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, accountKey(s.AccountID), s.ID.String())
			if _, err := pipe.Exec(ctx); err != nil {
				return count, fmt.Errorf("delete session %s: %w", s.ID, err)
			}
			count++
		}
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

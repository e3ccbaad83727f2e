package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/author-payouts/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "idempotency"

	// DefaultLockTimeout bounds how long a reservation may stay unfinished
	// before another request may take the key over.
	DefaultLockTimeout = 2 * time.Minute
)

// Record is a stored response, replayed for a repeated key.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps replayable responses for the Idempotency-Key contract. Rows in
// the database are the source of truth and expire after ttl; redis, when
// configured, caches finished responses for the same period.
type Store struct {
	redis       redis.Cmdable
	db          *repository.Queries
	ttl         time.Duration
	lockTimeout time.Duration
	now         func() time.Time
}

func NewStore(redis redis.Cmdable, db *repository.Queries, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl, lockTimeout: DefaultLockTimeout, now: time.Now}
}

// WithLockTimeout overrides DefaultLockTimeout.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	if d > 0 {
		s.lockTimeout = d
	}
	return s
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the finished response stored under key. A reservation older
// than the lock timeout, or a response older than ttl, is deleted and reported
// as ErrNotFound so the caller can reserve the key afresh.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.cached(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.db.GetIdempotencyKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if cutoff, expired := s.expired(row); expired {
		removed, err := s.db.DeleteIdempotencyKeyBefore(ctx, key, row.InProgress, cutoff)
		if err != nil {
			return nil, fmt.Errorf("expire idempotency key: %w", err)
		}
		if removed {
			zap.L().Info("expired idempotency key",
				zap.String("key", key), zap.Bool("in_progress", row.InProgress), zap.Time("updated_at", row.UpdatedAt))
			return nil, ErrNotFound
		}
		// Someone else touched the row between the read and the delete.
		return s.Lookup(ctx, key, requestHash)
	}

	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	rec := recordFromRow(row, "database")
	s.cache(ctx, *rec)
	return rec, nil
}

func (s *Store) expired(row repository.IdempotencyKey) (time.Time, bool) {
	limit := s.ttl
	if row.InProgress {
		limit = s.lockTimeout
	}
	if limit <= 0 {
		return time.Time{}, false
	}
	cutoff := s.now().Add(-limit)
	return cutoff, row.UpdatedAt.Before(cutoff)
}

func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	reserved, err := s.db.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return reserved, nil
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.db.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := recordFromRow(row, "database")
	s.cache(ctx, *rec)
	return rec, nil
}

// Release drops an unfinished reservation, letting the client retry a request
// whose handler failed before producing a response.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.db.ReleaseIdempotencyKey(ctx, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the holder of key finishes. It gives up once
// the lock timeout has passed or ctx ends, returning ErrInProgress.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err != nil && ctx.Err() != nil {
			return nil, ErrInProgress
		}
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ErrInProgress
		case <-ticker.C:
		}
	}
}

// Purge deletes finished keys older than ttl and reservations abandoned for
// longer than the lock timeout.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	now := s.now()
	n, err := s.db.PurgeIdempotencyKeys(ctx, now.Add(-s.ttl), now.Add(-s.lockTimeout))
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return n, nil
}

func (s *Store) cached(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	val, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, false
	}
	var env cacheEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		return nil, false
	}
	return &Record{
		Key:         env.Key,
		RequestHash: env.Hash,
		Status:      env.Status,
		Body:        env.Body,
		ContentType: env.ContentType,
		ServedBy:    "redis",
	}, true
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil || s.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func recordFromRow(row repository.IdempotencyKey, servedBy string) *Record {
	return &Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    servedBy,
	}
}

func redisKey(key string) string {
	return redisKeyPrefix + ":" + key
}

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "escrow:idempotency"

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
	InProgress  bool
}

// keyStore is the durable side of the idempotency contract.
type keyStore interface {
	get(ctx context.Context, key string) (*Record, error)
	reserve(ctx context.Context, key, requestHash, method, path string) (bool, error)
	finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error)
}

// Store answers replays from Redis when it can and from the durable key
// store otherwise.
type Store struct {
	redis redis.Cmdable
	keys  keyStore
	ttl   time.Duration
	name  string
}

// NewStore keeps keys in Postgres. redis may be nil.
func NewStore(redis redis.Cmdable, db *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{redis: redis, keys: &pgKeys{db: db}, ttl: ttl, name: "postgres"}
}

// NewMemoryStore keeps keys in process memory for the in-memory deployment.
func NewMemoryStore(redis redis.Cmdable, ttl time.Duration) *Store {
	return &Store{redis: redis, keys: newMemoryKeys(), ttl: ttl, name: "memory"}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, redisKey(key)).Result()
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal([]byte(val), &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					Key:         env.Key,
					RequestHash: env.Hash,
					Status:      env.Status,
					Body:        env.Body,
					ContentType: env.ContentType,
					ServedBy:    "redis",
				}, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
	}

	rec, err := s.keys.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if rec.InProgress {
		return nil, ErrInProgress
	}
	rec.ServedBy = s.name
	s.cache(ctx, *rec)
	return rec, nil
}

// Reserve claims key for one request. It reports false when another request
// already holds it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	return s.keys.reserve(ctx, key, requestHash, method, path)
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	rec, err := s.keys.finalize(ctx, key, requestHash, status, body, contentType)
	if err != nil {
		return nil, err
	}
	rec.ServedBy = s.name
	s.cache(ctx, *rec)
	return rec, nil
}

func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrInProgress) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				continue
			}
		}
		return nil, err
	}
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	env := cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}

type pgKeys struct {
	db *pgxpool.Pool
}

func (k *pgKeys) get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	var status int32
	err := k.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, response_status, response_body, content_type, in_progress
		FROM idempotency_keys WHERE idempotency_key = $1`, key,
	).Scan(&rec.Key, &rec.RequestHash, &status, &rec.Body, &rec.ContentType, &rec.InProgress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	rec.Status = int(status)
	return &rec, nil
}

func (k *pgKeys) reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	tag, err := k.db.Exec(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING`, key, requestHash, method, path)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (k *pgKeys) finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	rec := Record{Key: key, RequestHash: requestHash}
	var stored int32
	err := k.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $1, response_body = $2, content_type = $3, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING response_status, response_body, content_type`,
		int32(status), body, contentType, key, requestHash,
	).Scan(&stored, &rec.Body, &rec.ContentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec.Status = int(stored)
	return &rec, nil
}

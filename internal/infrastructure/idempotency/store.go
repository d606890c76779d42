// Package idempotency stores X-Idempotency-Key outcomes in Redis so a retried
// request replays the first response instead of running again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"concreterp/internal/core/apperror"
)

// Status represents the state of an idempotent operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// staleAfter is how long a pending key may stay untouched before it is
// considered abandoned by a crashed request.
const staleAfter = time.Minute

const keyPrefix = "idem:"

// Record is the value stored per key.
type Record struct {
	UserID      string    `json:"user_id"`
	Operation   string    `json:"operation"`
	Status      Status    `json:"status"`
	RequestHash string    `json:"request_hash"`
	Response    []byte    `json:"response,omitempty"`
	StatusCode  int       `json:"response_status,omitempty"`
	ContentType string    `json:"response_content_type,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Replay is the cached HTTP response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Recorder finalises a key with the response that was sent.
type Recorder interface {
	Complete(ctx context.Context, key string, statusCode int, contentType string, response any) error
	Fail(ctx context.Context, key string, statusCode int, contentType string, response any) error
}

// KV is the subset of the Redis client the store uses.
type KV interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Store manages idempotency keys in Redis.
type Store struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

var _ Recorder = (*Store)(nil)

// NewStore creates a store whose keys expire after ttl.
func NewStore(kv KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

// Acquire claims key for the request.
// Returns:
//   - (nil, nil) if the key was claimed by this request
//   - (replay, nil) if the operation already finished
//   - (nil, error) if the key is in flight or belongs to a different request
func (s *Store) Acquire(ctx context.Context, key, userID, operation, requestHash string) (*Replay, error) {
	rec := Record{
		UserID:      userID,
		Operation:   operation,
		Status:      StatusPending,
		RequestHash: requestHash,
		UpdatedAt:   s.now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}

	claimed, err := s.kv.SetNX(ctx, keyPrefix+key, raw, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	stored, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// Expired between SETNX and GET.
		return s.Acquire(ctx, key, userID, operation, requestHash)
	}

	if stored.UserID != userID || stored.Operation != operation || stored.RequestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_operation", stored.Operation).
			WithDetail("request_operation", operation)
	}

	switch stored.Status {
	case StatusSuccess, StatusFailed:
		return &Replay{
			StatusCode:  normalizeReplayStatus(stored.StatusCode),
			ContentType: stored.ContentType,
			Body:        stored.Response,
		}, nil
	default:
		if s.now().Sub(stored.UpdatedAt) > staleAfter {
			if err := s.kv.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
				return nil, fmt.Errorf("reclaim stale key: %w", err)
			}
			return nil, nil
		}
		return nil, apperror.NewIdempotencyConflict(key)
	}
}

func (s *Store) load(ctx context.Context, key string) (*Record, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency key: %w", err)
	}
	return &rec, nil
}

// Complete stores a successful response for replay.
func (s *Store) Complete(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(ctx, key, StatusSuccess, statusCode, contentType, response)
}

// Fail stores an error response for replay.
func (s *Store) Fail(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	return s.finish(ctx, key, StatusFailed, statusCode, contentType, response)
}

func (s *Store) finish(ctx context.Context, key string, status Status, statusCode int, contentType string, response any) error {
	rec, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{}
	}
	rec.Status = status
	rec.StatusCode = statusCode
	rec.ContentType = contentType
	rec.UpdatedAt = s.now().UTC()
	rec.Response = nil
	if response != nil {
		body, err := json.Marshal(response)
		if err != nil {
			body, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		rec.Response = body
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency response: %w", err)
	}
	return nil
}

func normalizeReplayStatus(code int) int {
	if code < 100 || code > 599 {
		return http.StatusOK
	}
	return code
}

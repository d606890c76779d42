// Package lock adapts bsm/redislock to core/lock.Locker.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	corelock "concreterp/internal/core/lock"
	"concreterp/pkg/logger"
)

// RedisLocker obtains locks through redislock with a short linear retry.
type RedisLocker struct {
	client *redislock.Client
	retry  redislock.RetryStrategy
}

var _ corelock.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker over rdb.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		retry:  redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 30),
	}
}

// Obtain acquires key for ttl, retrying for about three seconds.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lk, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, corelock.ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lk.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn(ctx, "lock expired before release", "key", key, "ttl", ttl)
			return nil
		}
		return err
	}, nil
}

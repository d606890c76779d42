// Package lock defines the distributed mutual-exclusion contract used around
// inventory-mutating operations. Implementations live in infrastructure/lock.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when the key is held by someone else.
var ErrNotObtained = errors.New("lock not obtained")

// Locker obtains short-lived exclusive locks by key.
type Locker interface {
	// Obtain acquires key for ttl. The returned release func is safe to call once.
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Noop never blocks. Used when no lock backend is configured.
type Noop struct{}

// Obtain always succeeds.
func (Noop) Obtain(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

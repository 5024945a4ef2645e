package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable wraps backend failures. Callers must treat it as fail-closed.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrInvalidArgument is returned for empty keys, non-positive TTLs or limits.
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// Counter is the outcome of one [Store.AtomicIncrement] call.
//
// Count never exceeds Limit: once the window is saturated the counter stays
// at Limit and Allowed is false.
type Counter struct {
	Count   int64
	Limit   int64
	Allowed bool
	ResetIn time.Duration
}

// Remaining returns how many increments the current window still accepts.
func (c Counter) Remaining() int64 {
	if c.Count >= c.Limit {
		return 0
	}
	return c.Limit - c.Count
}

// Store is the shared, expiring key-value state used for challenges, issued
// token copies and rate counters.
//
// Implementations must be safe for concurrent use across goroutines, and the
// Redis implementation additionally across process instances. Expired keys
// must never be returned by Get.
type Store interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// SetWithTTL stores value under key, replacing any previous value.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// AtomicIncrement increments the fixed-window counter at key unless it
	// already reached limit. The window starts on the first increment.
	AtomicIncrement(ctx context.Context, key string, limit int64, window time.Duration) (Counter, error)
	// CompareAndSwap replaces the value at key with next only when the
	// current value equals expected. It returns ErrNotFound for a missing key.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error)
}

func checkKey(key string) error {
	if key == "" {
		return ErrInvalidArgument
	}
	return nil
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidArgument
	}
	return nil
}

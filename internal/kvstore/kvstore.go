// Package kvstore provides a small time-windowed key-value store used for
// OAuth state handshakes and rate-limit counters. The in-memory
// implementation is enough for a single instance; the Redis implementation
// is for multi-replica deployments.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a TTL key-value capability
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error

	// Incr adds one to a counter key and returns the new value. The TTL is
	// set when the counter is created and left alone on later increments,
	// making the counter a fixed time window.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Package cache declares the read-cache contract shared by the cache
// levels and the HTTP layer.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys. Implementations
// report a missing key as a miss, never as an error, so callers can
// fall through to the registry without inspecting err.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Package natskv provides the shared cache level backed by a JetStream
// key-value bucket, so every instance of the control plane sees the
// same entries.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache reads and writes one JetStream KV bucket.
type Cache struct {
	bucket jetstream.KeyValue
}

// New wraps bucket as a cache level.
func New(bucket jetstream.KeyValue) *Cache {
	return &Cache{bucket: bucket}
}

// Get returns the stored value for key. A missing key is a miss, not
// an error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.bucket.Get(ctx, key)
	switch {
	case err == nil:
		return entry.Value(), true, nil
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Set stores value under key. Expiry comes from the bucket's MaxAge,
// so the per-entry ttl is ignored here.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.bucket.Put(ctx, key, value)
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.bucket.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return err
	}
	return nil
}

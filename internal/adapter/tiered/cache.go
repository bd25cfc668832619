// Package tiered stacks the in-process cache level in front of the
// shared one.
package tiered

import (
	"context"
	"time"

	"github.com/chronahq/tenancy/internal/port/cache"
)

// Cache reads through two levels. A hit in the process-local level is
// served directly; a hit in the shared level is copied down before
// returning, so repeat reads stay in process. Writes and deletes touch
// both levels.
type Cache struct {
	local       cache.Cache
	shared      cache.Cache
	backfillTTL time.Duration
}

// New combines local and shared into one cache. backfillTTL bounds how
// long copied-down entries live in the local level.
func New(local, shared cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, backfillTTL: backfillTTL}
}

// Get looks key up level by level.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.local.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	v, ok, err := c.shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = c.local.Set(ctx, key, v, c.backfillTTL)
	return v, true, nil
}

// Set writes key to both levels.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.shared.Set(ctx, key, value, ttl)
}

// Delete removes key from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.shared.Delete(ctx, key)
}

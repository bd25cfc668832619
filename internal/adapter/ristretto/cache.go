// Package ristretto provides the in-process cache level backed by
// dgraph-io/ristretto.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache keeps serialized registry responses in process memory. Cost
// accounting is byte-based, so the configured bound caps real memory
// use rather than an entry count.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New builds a cache holding at most maxBytes of values. Counter space
// is sized for entries averaging around a hundred bytes.
func New(maxBytes int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxBytes / 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.inner.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

// Set stores value under key for at most ttl. Admission may still
// reject the entry under memory pressure.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops key from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close stops the cache's internal goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}

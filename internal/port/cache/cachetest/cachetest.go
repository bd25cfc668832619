// Package cachetest exercises the cache contract against an arbitrary
// implementation. Adapter tests run it so every level agrees on miss,
// overwrite and delete semantics.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/chronahq/tenancy/internal/port/cache"
)

// Run drives c through the behavior all cache levels must share.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("roundtrip", func(t *testing.T) {
		if err := c.Set(ctx, "tenant:acme", []byte(`{"slug":"acme"}`), time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, ok, err := c.Get(ctx, "tenant:acme")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !ok {
			t.Fatal("stored key reported as a miss")
		}
		if string(got) != `{"slug":"acme"}` {
			t.Fatalf("got %q back", got)
		}
	})

	t.Run("miss is not an error", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "tenant:never-stored")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if ok {
			t.Fatal("unknown key reported as a hit")
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		if err := c.Set(ctx, "tenant:globex", []byte("stale"), time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := c.Set(ctx, "tenant:globex", []byte("fresh"), time.Minute); err != nil {
			t.Fatalf("second set: %v", err)
		}
		got, ok, err := c.Get(ctx, "tenant:globex")
		if err != nil || !ok {
			t.Fatalf("get after overwrite: ok=%v err=%v", ok, err)
		}
		if string(got) != "fresh" {
			t.Fatalf("got %q, want the newer value", got)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := c.Set(ctx, "tenant:initech", []byte("x"), time.Minute); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := c.Delete(ctx, "tenant:initech"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		_, ok, err := c.Get(ctx, "tenant:initech")
		if err != nil {
			t.Fatalf("get after delete: %v", err)
		}
		if ok {
			t.Fatal("deleted key still served")
		}
	})

	t.Run("delete absent key", func(t *testing.T) {
		if err := c.Delete(ctx, "tenant:ghost"); err != nil {
			t.Fatalf("deleting an absent key must not fail: %v", err)
		}
	})
}

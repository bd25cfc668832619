package tenantdb

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many tenants a batch command works on at once using a
// weighted semaphore. The default limit of 1 keeps batches strictly
// sequential; --workers raises it. Fan-out stays safe because each worker
// only ever touches tenant databases through its own Switcher.Run handles.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent tenant
// operations.
func NewPool(limit int) *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(max(limit, 1)))}
}

// Go acquires a slot, runs fn, and releases the slot. Blocks while all
// slots are busy; returns ctx.Err() if the context is cancelled while
// waiting. A nil pool runs fn directly.
func (p *Pool) Go(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker slot: %w", err)
	}
	defer p.sem.Release(1)
	return fn()
}

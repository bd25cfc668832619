// Package tenantdb is the concrete pgx layer for per-tenant databases: the
// connection switcher, the migration catalog and ledger, baseline
// reconciliation, and the tenant-scoped queries the services need.
//
// There is deliberately no notion of a process-wide "current tenant".
// Every unit of work receives its own handle bound to one tenant database
// for the duration of a Run call; nothing here mutates shared routing state.
package tenantdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
)

// Querier is the subset of pgxpool.Pool the tenant-scoped code needs. Work
// funcs receive it instead of a concrete pool so tests can fake it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Switcher hands out per-tenant database handles. Pools are cached per
// database name, bounded in count, and evicted after sitting idle.
type Switcher struct {
	cfg    config.TenantDB
	dsnFor func(dbname string) string

	mu    sync.Mutex
	pools map[string]*poolEntry

	// dial is swappable in tests.
	dial func(ctx context.Context, dsn string) (*pgxpool.Pool, error)
}

type poolEntry struct {
	pool     *pgxpool.Pool
	leases   int
	lastUsed time.Time
}

// NewSwitcher creates a Switcher. dsnFor builds the DSN for a named tenant
// database, typically config.TenantDSN.
func NewSwitcher(cfg config.TenantDB, dsnFor func(dbname string) string) *Switcher {
	s := &Switcher{
		cfg:    cfg,
		dsnFor: dsnFor,
		pools:  make(map[string]*poolEntry),
	}
	s.dial = func(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}
		poolCfg.MaxConns = cfg.MaxConns
		return pgxpool.NewWithConfig(ctx, poolCfg)
	}
	return s
}

// Run resolves the tenant's database, leases a handle bound to it, invokes
// fn with that handle, and releases the lease on every exit path. Errors
// from fn propagate to the caller after release. An empty database name
// aborts with domain.ErrConfiguration before any connection is dialed.
func (s *Switcher) Run(ctx context.Context, t *tenant.Tenant, fn func(ctx context.Context, q Querier) error) error {
	name := t.DatabaseName(s.cfg.NamePrefix)
	if name == "" {
		return fmt.Errorf("tenant has no database name: %w", domain.ErrConfiguration)
	}

	pool, release, err := s.lease(ctx, name)
	if err != nil {
		return fmt.Errorf("lease database %s: %w", name, err)
	}
	defer release()

	return fn(ctx, pool)
}

// lease returns the cached pool for name or dials a new one. The returned
// release func must be called exactly once.
func (s *Switcher) lease(ctx context.Context, name string) (*pgxpool.Pool, func(), error) {
	s.mu.Lock()
	if e, ok := s.pools[name]; ok {
		e.leases++
		e.lastUsed = time.Now()
		s.mu.Unlock()
		return e.pool, func() { s.release(name) }, nil
	}
	s.mu.Unlock()

	// Dial outside the lock. Two goroutines racing for the same tenant may
	// both dial; the loser's pool is closed below.
	pool, err := s.dial(ctx, s.dsnFor(name))
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	if e, ok := s.pools[name]; ok {
		e.leases++
		e.lastUsed = time.Now()
		s.mu.Unlock()
		pool.Close()
		return e.pool, func() { s.release(name) }, nil
	}

	s.evictLocked()
	s.pools[name] = &poolEntry{pool: pool, leases: 1, lastUsed: time.Now()}
	s.mu.Unlock()

	slog.Debug("tenant pool opened", "database", name)
	return pool, func() { s.release(name) }, nil
}

func (s *Switcher) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pools[name]; ok {
		e.leases--
		e.lastUsed = time.Now()
	}
}

// evictLocked makes room for one more pool: first anything idle past the
// TTL, then the least recently used unleased entry when the cache is full.
// All-leased overflow is allowed; the bound is a target, not a hard cap.
func (s *Switcher) evictLocked() {
	now := time.Now()
	for name, e := range s.pools {
		if e.leases == 0 && s.cfg.PoolIdleTTL > 0 && now.Sub(e.lastUsed) > s.cfg.PoolIdleTTL {
			e.pool.Close()
			delete(s.pools, name)
			slog.Debug("tenant pool evicted idle", "database", name)
		}
	}

	if s.cfg.MaxPools <= 0 || len(s.pools) < s.cfg.MaxPools {
		return
	}

	var oldest string
	var oldestAt time.Time
	for name, e := range s.pools {
		if e.leases > 0 {
			continue
		}
		if oldest == "" || e.lastUsed.Before(oldestAt) {
			oldest = name
			oldestAt = e.lastUsed
		}
	}
	if oldest != "" {
		s.pools[oldest].pool.Close()
		delete(s.pools, oldest)
		slog.Debug("tenant pool evicted lru", "database", oldest)
	}
}

// Forget closes and drops the cached pool for a tenant; callers do this
// before dropping the physical database so no live connections block it.
func (s *Switcher) Forget(t *tenant.Tenant) {
	name := t.DatabaseName(s.cfg.NamePrefix)
	if name == "" {
		return
	}

	s.mu.Lock()
	e, ok := s.pools[name]
	if ok {
		delete(s.pools, name)
	}
	s.mu.Unlock()

	if ok {
		if e.leases > 0 {
			slog.Warn("forgetting tenant pool with active leases", "database", name, "leases", e.leases)
		}
		e.pool.Close()
	}
}

// Close drains every cached pool. The Switcher is unusable afterwards.
func (s *Switcher) Close() {
	s.mu.Lock()
	pools := s.pools
	s.pools = make(map[string]*poolEntry)
	s.mu.Unlock()

	for _, e := range pools {
		e.pool.Close()
	}
}

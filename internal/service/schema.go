package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/registry"
	"github.com/chronahq/tenancy/internal/tenantdb"
	"github.com/chronahq/tenancy/internal/tenantdb/seed"
)

// CatalogRunner is the migration surface the schema commands drive.
type CatalogRunner interface {
	SchemaMigrator
	Fresh(ctx context.Context, q tenantdb.Querier) ([]string, error)
	Pending(ctx context.Context, q tenantdb.Querier) ([]string, error)
	Names() []string
}

// SchemaService runs migrations, seeders and ledger baselining across
// tenant databases. Batches default to strictly sequential processing in
// listing order; a worker count above one fans out through a bounded pool,
// each worker holding only its own switcher handles.
type SchemaService struct {
	store    registry.Store
	switcher TenantRunner
	migrator CatalogRunner
	seeders  []seed.Seeder
	sink     audit.Sink
}

// NewSchemaService creates a SchemaService.
func NewSchemaService(store registry.Store, switcher TenantRunner, migrator CatalogRunner, seeders []seed.Seeder, sink audit.Sink) *SchemaService {
	return &SchemaService{
		store:    store,
		switcher: switcher,
		migrator: migrator,
		seeders:  seeders,
		sink:     sink,
	}
}

// MigrateOne migrates a single tenant's database by slug.
func (s *SchemaService) MigrateOne(ctx context.Context, slug string, fresh, seedAfter bool) (*Report, error) {
	t, err := s.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", slug, err)
	}
	return &Report{Items: []Result{s.migrateTenant(ctx, t, fresh, seedAfter)}}, nil
}

// MigrateAll migrates every tenant's database.
func (s *SchemaService) MigrateAll(ctx context.Context, fresh, seedAfter bool, workers int) (*Report, error) {
	tenants, err := s.store.ListTenants(ctx, tenant.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return s.forEach(ctx, tenants, workers, func(ctx context.Context, t *tenant.Tenant) Result {
		return s.migrateTenant(ctx, t, fresh, seedAfter)
	}), nil
}

func (s *SchemaService) migrateTenant(ctx context.Context, t *tenant.Tenant, fresh, seedAfter bool) Result {
	var applied []string
	err := s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		var merr error
		if fresh {
			applied, merr = s.migrator.Fresh(ctx, q)
		} else {
			applied, merr = s.migrator.Migrate(ctx, q)
		}
		if merr != nil {
			return merr
		}
		if seedAfter {
			for _, sd := range s.seeders {
				if err := sd.Run(ctx, q); err != nil {
					return fmt.Errorf("seeder %s: %w", sd.Name(), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("migrate tenant", "slug", t.Slug, "error", err)
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionMigrate,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeFailed,
			Error:      err.Error(),
		})
		return Result{Slug: t.Slug, Err: err}
	}

	detail := fmt.Sprintf("%d applied", len(applied))
	if fresh {
		detail = "fresh, " + detail
	}
	if seedAfter {
		detail += ", seeded"
	}
	slog.Info("tenant migrated", "slug", t.Slug, "applied", len(applied), "fresh", fresh)
	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionMigrate,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
		Detail:     map[string]any{"applied": len(applied), "fresh": fresh, "seeded": seedAfter},
	})
	return Result{Slug: t.Slug, Detail: detail}
}

// SeedOne runs seeders against a single tenant. class narrows the run to
// one seeder by name; empty runs them all.
func (s *SchemaService) SeedOne(ctx context.Context, slug, class string) (*Report, error) {
	toRun, err := s.resolveSeeders(class)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", slug, err)
	}
	return &Report{Items: []Result{s.seedTenant(ctx, t, toRun)}}, nil
}

// SeedAll runs seeders against every tenant.
func (s *SchemaService) SeedAll(ctx context.Context, class string, workers int) (*Report, error) {
	toRun, err := s.resolveSeeders(class)
	if err != nil {
		return nil, err
	}
	tenants, err := s.store.ListTenants(ctx, tenant.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return s.forEach(ctx, tenants, workers, func(ctx context.Context, t *tenant.Tenant) Result {
		return s.seedTenant(ctx, t, toRun)
	}), nil
}

func (s *SchemaService) seedTenant(ctx context.Context, t *tenant.Tenant, toRun []seed.Seeder) Result {
	err := s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		for _, sd := range toRun {
			if err := sd.Run(ctx, q); err != nil {
				return fmt.Errorf("seeder %s: %w", sd.Name(), err)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("seed tenant", "slug", t.Slug, "error", err)
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionSeed,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeFailed,
			Error:      err.Error(),
		})
		return Result{Slug: t.Slug, Err: err}
	}

	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionSeed,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
		Detail:     map[string]any{"seeders": len(toRun)},
	})
	return Result{Slug: t.Slug, Detail: fmt.Sprintf("%d seeders", len(toRun))}
}

func (s *SchemaService) resolveSeeders(class string) ([]seed.Seeder, error) {
	if class == "" {
		return s.seeders, nil
	}
	sd, ok := seed.ByName(class)
	if !ok {
		return nil, fmt.Errorf("%w: unknown seeder class %q", domain.ErrValidation, class)
	}
	return []seed.Seeder{sd}, nil
}

// Baseline reconciles a tenant's migration ledger with the catalog without
// executing anything, recording missing names under the given batch.
func (s *SchemaService) Baseline(ctx context.Context, slug string, batch int, dryRun bool) (tenantdb.BaselineReport, error) {
	t, err := s.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return tenantdb.BaselineReport{}, fmt.Errorf("get tenant %s: %w", slug, err)
	}

	var rep tenantdb.BaselineReport
	err = s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		var berr error
		rep, berr = tenantdb.Reconcile(ctx, q, s.migrator.Names(), batch, dryRun)
		return berr
	})
	if err != nil {
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionBaseline,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeFailed,
			Error:      err.Error(),
		})
		return rep, fmt.Errorf("baseline %s: %w", slug, err)
	}

	slog.Info("ledger baselined", "slug", t.Slug, "missing", len(rep.Missing), "batch", batch, "dry_run", dryRun)
	if !dryRun {
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionBaseline,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeOK,
			Detail:     map[string]any{"recorded": len(rep.Missing), "batch": batch},
		})
	}
	return rep, nil
}

// forEach applies fn to every tenant and collects results in listing
// order. workers <= 1 processes strictly sequentially; above that, a
// bounded pool fans the batch out.
func (s *SchemaService) forEach(ctx context.Context, tenants []tenant.Tenant, workers int, fn func(ctx context.Context, t *tenant.Tenant) Result) *Report {
	results := make([]Result, len(tenants))

	if workers <= 1 {
		for i := range tenants {
			results[i] = fn(ctx, &tenants[i])
		}
		return &Report{Items: results}
	}

	pool := tenantdb.NewPool(workers)
	var wg sync.WaitGroup
	for i := range tenants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Go(ctx, func() error {
				results[i] = fn(ctx, &tenants[i])
				return nil
			}); err != nil {
				results[i] = Result{Slug: tenants[i].Slug, Err: err}
			}
		}()
	}
	wg.Wait()
	return &Report{Items: results}
}

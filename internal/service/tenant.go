package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/dbadmin"
	"github.com/chronahq/tenancy/internal/port/registry"
	"github.com/chronahq/tenancy/internal/resilience"
	"github.com/chronahq/tenancy/internal/tenantdb"
)

// TenantRunner is the slice of the connection switcher the services need:
// scoped per-tenant database work plus pool invalidation before destructive
// actions.
type TenantRunner interface {
	Run(ctx context.Context, t *tenant.Tenant, fn func(ctx context.Context, q tenantdb.Querier) error) error
	Forget(t *tenant.Tenant)
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// TenantService reads registry tenants and owns the tenant-destruction
// primitive shared by the delete command and the purge executor.
type TenantService struct {
	store    registry.Store
	admin    dbadmin.Admin
	switcher TenantRunner
	breaker  *resilience.Breaker
	sink     audit.Sink
	dbPrefix string
}

// NewTenantService creates a TenantService. breaker may be nil to call the
// database driver unguarded.
func NewTenantService(store registry.Store, admin dbadmin.Admin, switcher TenantRunner, breaker *resilience.Breaker, sink audit.Sink, dbPrefix string) *TenantService {
	return &TenantService{
		store:    store,
		admin:    admin,
		switcher: switcher,
		breaker:  breaker,
		sink:     sink,
		dbPrefix: dbPrefix,
	}
}

// Get returns a tenant by slug.
func (s *TenantService) Get(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.store.GetTenantBySlug(ctx, slug)
}

// List returns registry tenants, optionally narrowed by status.
func (s *TenantService) List(ctx context.Context, f tenant.Filter) ([]tenant.Tenant, error) {
	if f.Status != "" && !tenant.ValidStatuses[f.Status] {
		return nil, fmt.Errorf("unknown status %q: %w", f.Status, domain.ErrValidation)
	}
	return s.store.ListTenants(ctx, f)
}

// Domains returns the hostnames mapped to a tenant.
func (s *TenantService) Domains(ctx context.Context, tenantID string) ([]tenant.Domain, error) {
	return s.store.ListDomains(ctx, tenantID)
}

// Destroy removes a tenant completely: the cached pool, the central row and
// the physical database, in that order. Domains, subscription and metrics
// rows cascade with the central row. A drop that fails after the row is
// gone leaves an orphaned database; the audit trail is the only pointer
// operators have to it.
func (s *TenantService) Destroy(ctx context.Context, t *tenant.Tenant) error {
	name := t.DatabaseName(s.dbPrefix)
	if name == "" {
		return fmt.Errorf("tenant has no database name: %w", domain.ErrConfiguration)
	}

	s.switcher.Forget(t)

	if err := s.store.DeleteTenant(ctx, t.ID); err != nil {
		return fmt.Errorf("delete tenant %s: %w", t.Slug, err)
	}
	if err := guard(s.breaker, func() error { return s.admin.Drop(ctx, name) }); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

// Delete destroys one tenant by slug and audits the outcome.
func (s *TenantService) Delete(ctx context.Context, slug string) error {
	t, err := s.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("get tenant %s: %w", slug, err)
	}

	if err := s.Destroy(ctx, t); err != nil {
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionDelete,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeFailed,
			Error:      err.Error(),
		})
		return err
	}

	slog.Info("tenant deleted", "slug", t.Slug, "tenant_id", t.ID)
	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionDelete,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
	})
	return nil
}

// guard runs fn through the breaker when one is configured.
func guard(b *resilience.Breaker, fn func() error) error {
	if b == nil {
		return fn()
	}
	return b.Execute(fn)
}

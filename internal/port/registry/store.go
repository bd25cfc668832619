// Package registry defines the central-registry store port (interface).
package registry

import (
	"context"
	"time"

	"github.com/chronahq/tenancy/internal/domain/lifecycle"
	"github.com/chronahq/tenancy/internal/domain/metrics"
	"github.com/chronahq/tenancy/internal/domain/subscription"
	"github.com/chronahq/tenancy/internal/domain/tenant"
)

// Store is the port interface for the shared central registry. All methods
// operate on cross-tenant records; nothing here ever touches a tenant's own
// database.
type Store interface {
	// Tenants
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context, f tenant.Filter) ([]tenant.Tenant, error)
	// CreateTenant inserts the central row. A duplicate slug reports
	// domain.ErrAlreadySatisfied so idempotent provisioning can proceed.
	CreateTenant(ctx context.Context, t *tenant.Tenant) error
	UpdateTenantStatus(ctx context.Context, id string, status tenant.Status) error
	// SetSubscriptionState persists the cached derived state. The last
	// status-change timestamp is stamped only when changedAt is non-nil.
	SetSubscriptionState(ctx context.Context, id string, state lifecycle.State, changedAt *time.Time) error
	// DeleteTenant hard-deletes the central row; domains, subscription and
	// metrics rows cascade with it.
	DeleteTenant(ctx context.Context, id string) error

	// Retention
	// ListUnscheduled returns tenants with no deletion deadline assigned.
	ListUnscheduled(ctx context.Context) ([]tenant.Tenant, error)
	// ListPurgeCandidates returns tenants whose deadline has passed,
	// earliest deadline first, capped at limit.
	ListPurgeCandidates(ctx context.Context, now time.Time, limit int) ([]tenant.Tenant, error)
	// ScheduleDeletion stamps data_retention_until and
	// scheduled_for_deletion_at with the same deadline.
	ScheduleDeletion(ctx context.Context, id string, deadline time.Time) error

	// Domains
	EnsureDomain(ctx context.Context, d tenant.Domain) error
	ListDomains(ctx context.Context, tenantID string) ([]tenant.Domain, error)

	// Subscriptions (read-only; billing owns the rows)
	GetSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error)

	// Usage metrics
	UpsertDailyUsage(ctx context.Context, u metrics.DailyUsage) error
	ListDailyUsage(ctx context.Context, date time.Time) ([]metrics.DailyUsage, error)

	// Ping verifies registry connectivity.
	Ping(ctx context.Context) error
}

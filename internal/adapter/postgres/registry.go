package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/lifecycle"
	"github.com/chronahq/tenancy/internal/domain/metrics"
	"github.com/chronahq/tenancy/internal/domain/subscription"
	"github.com/chronahq/tenancy/internal/domain/tenant"
)

// Store implements registry.Store against the central PostgreSQL registry.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Tenants ---

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, status, plan, owner_name, owner_email,
		        trial_ends_at, deactivated_at, scheduled_for_deletion_at, data_retention_until,
		        subscription_state, subscription_last_status_change_at, created_at, updated_at
		 FROM tenants WHERE id = $1`, id)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get tenant %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, status, plan, owner_name, owner_email,
		        trial_ends_at, deactivated_at, scheduled_for_deletion_at, data_retention_until,
		        subscription_state, subscription_last_status_change_at, created_at, updated_at
		 FROM tenants WHERE slug = $1`, slug)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get tenant by slug %s: %w", slug, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant by slug %s: %w", slug, err)
	}
	return &t, nil
}

func (s *Store) ListTenants(ctx context.Context, f tenant.Filter) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, name, status, plan, owner_name, owner_email,
		        trial_ends_at, deactivated_at, scheduled_for_deletion_at, data_retention_until,
		        subscription_state, subscription_last_status_change_at, created_at, updated_at
		 FROM tenants WHERE ($1 = '' OR status = $1) ORDER BY created_at ASC`, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	return collectTenants(rows)
}

// CreateTenant inserts the central registry row. The caller assigns the ID
// up front so the database name is known before anything is created. A
// duplicate row reports domain.ErrAlreadySatisfied.
func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, slug, name, status, plan, owner_name, owner_email, trial_ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		t.ID, t.Slug, t.Name, string(t.Status), t.Plan, t.OwnerName, t.OwnerEmail, t.TrialEndsAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return fmt.Errorf("create tenant %s: %w", t.Slug, domain.ErrAlreadySatisfied)
		}
		return fmt.Errorf("create tenant %s: %w", t.Slug, err)
	}
	return nil
}

// UpdateTenantStatus sets the operational status. Deactivating stamps
// deactivated_at; activating clears it.
func (s *Store) UpdateTenantStatus(ctx context.Context, id string, status tenant.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET status = $2,
		        deactivated_at = CASE
		            WHEN $2 = 'deactivated' THEN now()
		            WHEN $2 = 'active' THEN NULL
		            ELSE deactivated_at
		        END,
		        updated_at = now()
		 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update tenant status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update tenant status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetSubscriptionState(ctx context.Context, id string, state lifecycle.State, changedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET subscription_state = $2,
		        subscription_last_status_change_at = COALESCE($3, subscription_last_status_change_at),
		        updated_at = now()
		 WHERE id = $1`, id, string(state), changedAt)
	if err != nil {
		return fmt.Errorf("set subscription state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set subscription state %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete tenant %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Retention ---

func (s *Store) ListUnscheduled(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, name, status, plan, owner_name, owner_email,
		        trial_ends_at, deactivated_at, scheduled_for_deletion_at, data_retention_until,
		        subscription_state, subscription_last_status_change_at, created_at, updated_at
		 FROM tenants WHERE scheduled_for_deletion_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unscheduled tenants: %w", err)
	}
	defer rows.Close()

	return collectTenants(rows)
}

func (s *Store) ListPurgeCandidates(ctx context.Context, now time.Time, limit int) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, name, status, plan, owner_name, owner_email,
		        trial_ends_at, deactivated_at, scheduled_for_deletion_at, data_retention_until,
		        subscription_state, subscription_last_status_change_at, created_at, updated_at
		 FROM tenants
		 WHERE scheduled_for_deletion_at IS NOT NULL AND scheduled_for_deletion_at <= $1
		 ORDER BY scheduled_for_deletion_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list purge candidates: %w", err)
	}
	defer rows.Close()

	return collectTenants(rows)
}

func (s *Store) ScheduleDeletion(ctx context.Context, id string, deadline time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET data_retention_until = $2, scheduled_for_deletion_at = $2, updated_at = now()
		 WHERE id = $1`, id, deadline)
	if err != nil {
		return fmt.Errorf("schedule deletion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule deletion %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Domains ---

// EnsureDomain inserts a domain mapping if it does not already exist.
// Re-running provisioning for the same tenant is a no-op here.
func (s *Store) EnsureDomain(ctx context.Context, d tenant.Domain) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_domains (tenant_id, domain, is_primary)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (domain) DO NOTHING`,
		d.TenantID, d.Domain, d.IsPrimary)
	if err != nil {
		return fmt.Errorf("ensure domain %s: %w", d.Domain, err)
	}
	return nil
}

func (s *Store) ListDomains(ctx context.Context, tenantID string) ([]tenant.Domain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, domain, is_primary, created_at
		 FROM tenant_domains WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []tenant.Domain
	for rows.Next() {
		var d tenant.Domain
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Domain, &d.IsPrimary, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// --- Subscriptions ---

// GetSubscription returns the billing subscription for a tenant, or nil
// without error when no subscription row exists. Absence is a normal input
// to lifecycle derivation, not a failure.
func (s *Store) GetSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, plan, status, is_trial, trial_ends_at, billing_period_ends_at,
		        next_renewal_at, user_limit, created_at, updated_at
		 FROM subscriptions WHERE tenant_id = $1`, tenantID,
	).Scan(&sub.ID, &sub.TenantID, &sub.Plan, &sub.Status, &sub.IsTrial, &sub.TrialEndsAt,
		&sub.BillingPeriodEndsAt, &sub.NextRenewalAt, &sub.UserLimit, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription for tenant %s: %w", tenantID, err)
	}
	return &sub, nil
}

// --- Usage metrics ---

func (s *Store) UpsertDailyUsage(ctx context.Context, u metrics.DailyUsage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_usage_metrics (tenant_id, tenant_slug, metric_date, active_users, time_entries, expenses_cents)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, metric_date) DO UPDATE SET
		   tenant_slug = EXCLUDED.tenant_slug,
		   active_users = EXCLUDED.active_users,
		   time_entries = EXCLUDED.time_entries,
		   expenses_cents = EXCLUDED.expenses_cents,
		   computed_at = now()`,
		u.TenantID, u.TenantSlug, u.Date, u.ActiveUsers, u.TimeEntries, u.ExpensesCents)
	if err != nil {
		return fmt.Errorf("upsert daily usage for tenant %s: %w", u.TenantID, err)
	}
	return nil
}

func (s *Store) ListDailyUsage(ctx context.Context, date time.Time) ([]metrics.DailyUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, tenant_slug, metric_date, active_users, time_entries, expenses_cents, computed_at
		 FROM tenant_usage_metrics WHERE metric_date = $1 ORDER BY tenant_slug ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("list daily usage: %w", err)
	}
	defer rows.Close()

	var usage []metrics.DailyUsage
	for rows.Next() {
		var u metrics.DailyUsage
		if err := rows.Scan(&u.TenantID, &u.TenantSlug, &u.Date, &u.ActiveUsers, &u.TimeEntries, &u.ExpensesCents, &u.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan daily usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// Ping verifies registry connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Scanners ---

func scanTenant(row rowScanner) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.Status, &t.Plan, &t.OwnerName, &t.OwnerEmail,
		&t.TrialEndsAt, &t.DeactivatedAt, &t.ScheduledForDeletionAt, &t.DataRetentionUntil,
		&t.SubscriptionState, &t.SubscriptionLastStatusChangeAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func collectTenants(rows pgx.Rows) ([]tenant.Tenant, error) {
	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

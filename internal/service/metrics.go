package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain/metrics"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/registry"
	"github.com/chronahq/tenancy/internal/tenantdb"
)

// MetricsService computes per-tenant daily usage counters inside each
// tenant's database and records them in the central registry.
type MetricsService struct {
	store    registry.Store
	switcher TenantRunner
	sink     audit.Sink
	cfg      config.Metrics
}

// NewMetricsService creates a MetricsService.
func NewMetricsService(store registry.Store, switcher TenantRunner, sink audit.Sink, cfg config.Metrics) *MetricsService {
	return &MetricsService{store: store, switcher: switcher, sink: sink, cfg: cfg}
}

// ComputeDaily gathers usage counts for one calendar day. slug narrows the
// run to a single tenant; limit caps a full sweep (pass <= 0 for the
// configured limit). Dry-run reports the counts without persisting them.
func (s *MetricsService) ComputeDaily(ctx context.Context, day time.Time, slug string, limit int, dryRun bool) (*Report, error) {
	if limit <= 0 {
		limit = s.cfg.BatchLimit
	}
	day = day.UTC().Truncate(24 * time.Hour)

	var tenants []tenant.Tenant
	if slug != "" {
		t, err := s.store.GetTenantBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("get tenant %s: %w", slug, err)
		}
		tenants = []tenant.Tenant{*t}
	} else {
		var err error
		tenants, err = s.store.ListTenants(ctx, tenant.Filter{})
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		if len(tenants) > limit {
			tenants = tenants[:limit]
		}
	}

	report := &Report{}
	for i := range tenants {
		t := &tenants[i]

		var u tenantdb.Usage
		err := s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
			var uerr error
			u, uerr = tenantdb.UsageOn(ctx, q, day)
			return uerr
		})
		if err != nil {
			slog.Error("compute usage", "slug", t.Slug, "date", day.Format("2006-01-02"), "error", err)
			report.add(Result{Slug: t.Slug, Err: err})
			continue
		}

		detail := fmt.Sprintf("users=%d entries=%d expenses_cents=%d", u.ActiveUsers, u.TimeEntries, u.ExpensesCents)
		if dryRun {
			report.add(Result{Slug: t.Slug, Detail: "would record " + detail})
			continue
		}

		rec := metrics.DailyUsage{
			TenantID:      t.ID,
			TenantSlug:    t.Slug,
			Date:          day,
			ActiveUsers:   int64(u.ActiveUsers),
			TimeEntries:   int64(u.TimeEntries),
			ExpensesCents: u.ExpensesCents,
		}
		if err := s.store.UpsertDailyUsage(ctx, rec); err != nil {
			report.add(Result{Slug: t.Slug, Err: fmt.Errorf("record usage: %w", err)})
			continue
		}
		report.add(Result{Slug: t.Slug, Detail: detail})
	}

	if !dryRun {
		outcome := audit.OutcomeOK
		if report.Failed() > 0 {
			outcome = audit.OutcomeFailed
		}
		recordAudit(ctx, s.sink, audit.Event{
			Action:  audit.ActionMetrics,
			Outcome: outcome,
			Detail: map[string]any{
				"date":    day.Format("2006-01-02"),
				"tenants": len(tenants),
				"failed":  report.Failed(),
			},
		})
	}
	return report, nil
}

// Export writes the recorded usage for one day to an XLSX workbook at path.
func (s *MetricsService) Export(ctx context.Context, day time.Time, path string) error {
	day = day.UTC().Truncate(24 * time.Hour)
	rows, err := s.store.ListDailyUsage(ctx, day)
	if err != nil {
		return fmt.Errorf("list daily usage: %w", err)
	}
	if err := writeUsageXLSX(path, day, rows); err != nil {
		return fmt.Errorf("write workbook %s: %w", path, err)
	}
	slog.Info("usage report exported", "date", day.Format("2006-01-02"), "rows", len(rows), "path", path)
	return nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/registry"
)

// RetentionService assigns deletion deadlines to tenants that have left
// active service. A deadline is assigned at most once; later lifecycle
// churn never recomputes or clears it.
type RetentionService struct {
	store registry.Store
	sink  audit.Sink
	cfg   config.Retention
}

// NewRetentionService creates a RetentionService.
func NewRetentionService(store registry.Store, sink audit.Sink, cfg config.Retention) *RetentionService {
	return &RetentionService{store: store, sink: sink, cfg: cfg}
}

// Schedule walks every tenant without a deadline, derives its state fresh,
// and stamps a deletion deadline on those that are neither active nor
// trial. days overrides the configured retention window when >= 0; pass a
// negative value to use the default. The effective window is clamped to
// zero or more days.
func (s *RetentionService) Schedule(ctx context.Context, days int, dryRun bool) (*Report, error) {
	if days < 0 {
		days = s.cfg.Days
	}
	if days < 0 {
		days = 0
	}

	tenants, err := s.store.ListUnscheduled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unscheduled tenants: %w", err)
	}

	now := time.Now().UTC()
	report := &Report{}
	for i := range tenants {
		t := &tenants[i]

		state, err := deriveState(ctx, s.store, t, now)
		if err != nil {
			slog.Error("derive state for retention", "slug", t.Slug, "error", err)
			report.add(Result{Slug: t.Slug, Err: err})
			continue
		}

		if state.Retainable() {
			slog.Info("retention skipped for tenant in good standing", "slug", t.Slug, "state", string(state))
			report.add(Result{Slug: t.Slug, Skipped: true, Detail: "state " + string(state)})
			continue
		}

		anchor := retentionAnchor(t, now)
		deadline := anchor.AddDate(0, 0, days)
		detail := fmt.Sprintf("deadline %s (anchor %s + %dd, state %s)",
			deadline.Format(time.RFC3339), anchor.Format("2006-01-02"), days, state)

		if dryRun {
			report.add(Result{Slug: t.Slug, Detail: "would set " + detail})
			continue
		}

		if err := s.store.ScheduleDeletion(ctx, t.ID, deadline); err != nil {
			report.add(Result{Slug: t.Slug, Err: fmt.Errorf("schedule deletion: %w", err)})
			continue
		}

		slog.Info("deletion scheduled", "slug", t.Slug, "state", string(state), "deadline", deadline)
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionRetention,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeOK,
			Detail:     map[string]any{"state": string(state), "deadline": deadline.Format(time.RFC3339), "days": days},
		})
		report.add(Result{Slug: t.Slug, Detail: detail})
	}
	return report, nil
}

// retentionAnchor picks the instant the retention window counts from: the
// first available of the lifecycle timestamps, in fixed precedence, falling
// through to now.
func retentionAnchor(t *tenant.Tenant, now time.Time) time.Time {
	switch {
	case t.SubscriptionLastStatusChangeAt != nil:
		return *t.SubscriptionLastStatusChangeAt
	case t.DeactivatedAt != nil:
		return *t.DeactivatedAt
	case t.TrialEndsAt != nil:
		return *t.TrialEndsAt
	case !t.UpdatedAt.IsZero():
		return t.UpdatedAt
	}
	return now
}

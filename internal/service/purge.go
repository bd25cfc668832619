package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tnotel "github.com/chronahq/tenancy/internal/adapter/otel"
	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/registry"
)

// PurgeService permanently deletes tenants whose retention deadline has
// passed, using the destruction primitive on TenantService.
type PurgeService struct {
	store   registry.Store
	tenants *TenantService
	sink    audit.Sink
	cfg     config.Retention
}

// NewPurgeService creates a PurgeService.
func NewPurgeService(store registry.Store, tenants *TenantService, sink audit.Sink, cfg config.Retention) *PurgeService {
	return &PurgeService{store: store, tenants: tenants, sink: sink, cfg: cfg}
}

// PurgeExpired deletes every tenant whose deadline lies in the past,
// earliest deadline first, capped at limit (pass <= 0 for the configured
// batch limit). Each candidate's lifecycle state is re-derived immediately
// before deletion; a tenant back in good standing is skipped even though
// its deadline passed. One candidate's failure never stops the batch.
func (s *PurgeService) PurgeExpired(ctx context.Context, limit int, dryRun bool) (*Report, error) {
	if limit <= 0 {
		limit = s.cfg.PurgeBatchLimit
	}

	now := time.Now().UTC()
	candidates, err := s.store.ListPurgeCandidates(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list purge candidates: %w", err)
	}

	ctx, span := tnotel.StartBatchSpan(ctx, "purge", len(candidates))
	defer span.End()

	report := &Report{}
	for i := range candidates {
		t := &candidates[i]

		detail, err := s.purgeOne(ctx, t, now, dryRun)
		switch {
		case errors.Is(err, domain.ErrSafetySkipped):
			report.add(Result{Slug: t.Slug, Skipped: true, Detail: detail})
		case err != nil:
			report.add(Result{Slug: t.Slug, Err: err})
		default:
			report.add(Result{Slug: t.Slug, Detail: detail})
		}
	}

	if n := report.Failed(); n > 0 {
		slog.Warn("purge batch finished with failures", "failed", n, "candidates", len(candidates))
	}
	return report, nil
}

func (s *PurgeService) purgeOne(ctx context.Context, t *tenant.Tenant, now time.Time, dryRun bool) (string, error) {
	state, err := deriveState(ctx, s.store, t, now)
	if err != nil {
		return "", err
	}

	if state.Retainable() {
		skip := fmt.Errorf("tenant %s re-derived to %s: %w", t.Slug, state, domain.ErrSafetySkipped)
		if dryRun {
			return "would skip (state " + string(state) + ")", skip
		}
		slog.Info("purge withheld, tenant is back in good standing", "slug", t.Slug, "state", string(state))
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionPurge,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeSkipped,
			Detail:     map[string]any{"state": string(state)},
		})
		return "state " + string(state), skip
	}

	deadline := "(none)"
	if t.ScheduledForDeletionAt != nil {
		deadline = t.ScheduledForDeletionAt.Format(time.RFC3339)
	}

	if dryRun {
		return fmt.Sprintf("would purge (deadline %s, state %s)", deadline, state), nil
	}

	if err := s.tenants.Destroy(ctx, t); err != nil {
		slog.Error("purge failed", "slug", t.Slug, "deadline", deadline, "error", err)
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionPurge,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeFailed,
			Detail:     map[string]any{"deadline": deadline},
			Error:      err.Error(),
		})
		return "", err
	}

	slog.Info("tenant purged", "slug", t.Slug, "deadline", deadline, "state", string(state))
	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionPurge,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
		Detail:     map[string]any{"deadline": deadline, "state": string(state)},
	})
	return "purged (deadline " + deadline + ")", nil
}

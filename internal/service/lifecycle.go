package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronahq/tenancy/internal/domain/lifecycle"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/registry"
)

// LifecycleService recomputes the cached subscription state from billing
// facts and persists transitions.
type LifecycleService struct {
	store registry.Store
	sink  audit.Sink
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(store registry.Store, sink audit.Sink) *LifecycleService {
	return &LifecycleService{store: store, sink: sink}
}

// SyncStates derives the lifecycle state for every tenant and persists it
// where it changed, stamping the last-status-change timestamp only on
// actual transitions. Deletion deadlines are never touched here; the
// retention scheduler owns those.
func (s *LifecycleService) SyncStates(ctx context.Context, dryRun bool) (*Report, error) {
	tenants, err := s.store.ListTenants(ctx, tenant.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	now := time.Now().UTC()
	report := &Report{}
	for i := range tenants {
		t := &tenants[i]

		state, err := deriveState(ctx, s.store, t, now)
		if err != nil {
			slog.Error("derive lifecycle state", "slug", t.Slug, "error", err)
			report.add(Result{Slug: t.Slug, Err: err})
			continue
		}

		if state == t.SubscriptionState {
			report.add(Result{Slug: t.Slug, Skipped: true, Detail: fmt.Sprintf("unchanged (%s)", state)})
			continue
		}

		transition := stateOrNone(t.SubscriptionState) + " -> " + string(state)
		if dryRun {
			report.add(Result{Slug: t.Slug, Detail: "would set " + transition})
			continue
		}

		changedAt := now
		if err := s.store.SetSubscriptionState(ctx, t.ID, state, &changedAt); err != nil {
			report.add(Result{Slug: t.Slug, Err: fmt.Errorf("persist state: %w", err)})
			continue
		}

		slog.Info("subscription state synced", "slug", t.Slug, "from", stateOrNone(t.SubscriptionState), "to", string(state))
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionState,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeOK,
			Detail:     map[string]any{"from": stateOrNone(t.SubscriptionState), "to": string(state)},
		})
		report.add(Result{Slug: t.Slug, Detail: transition})
	}
	return report, nil
}

// deriveState recomputes a tenant's lifecycle state from a fresh
// subscription read. Wherever correctness matters, the cached column is
// ignored in favor of this.
func deriveState(ctx context.Context, store registry.Store, t *tenant.Tenant, now time.Time) (lifecycle.State, error) {
	sub, err := store.GetSubscription(ctx, t.ID)
	if err != nil {
		return "", fmt.Errorf("get subscription for %s: %w", t.Slug, err)
	}
	return lifecycle.Derive(t.SubscriptionState, sub, t.TrialEndsAt, now), nil
}

func stateOrNone(s lifecycle.State) string {
	if s == "" {
		return "(none)"
	}
	return string(s)
}

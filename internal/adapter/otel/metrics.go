package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chronahq/tenancy/internal/port/audit"
)

const meterName = "tenancy"

// Metrics holds all tenancy metric instruments.
type Metrics struct {
	TenantsProvisioned metric.Int64Counter
	TenantsDeleted     metric.Int64Counter
	TenantsPurged      metric.Int64Counter
	OperationsFailed   metric.Int64Counter
	ProvisionDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TenantsProvisioned, err = meter.Int64Counter("tenancy.tenants.provisioned",
		metric.WithDescription("Number of tenants provisioned"))
	if err != nil {
		return nil, err
	}

	m.TenantsDeleted, err = meter.Int64Counter("tenancy.tenants.deleted",
		metric.WithDescription("Number of tenants deleted"))
	if err != nil {
		return nil, err
	}

	m.TenantsPurged, err = meter.Int64Counter("tenancy.tenants.purged",
		metric.WithDescription("Number of tenants removed by retention purges"))
	if err != nil {
		return nil, err
	}

	m.OperationsFailed, err = meter.Int64Counter("tenancy.operations.failed",
		metric.WithDescription("Number of failed lifecycle operations, by action"))
	if err != nil {
		return nil, err
	}

	m.ProvisionDuration, err = meter.Float64Histogram("tenancy.provision.duration_seconds",
		metric.WithDescription("Provisioning pipeline duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// AuditMetrics adapts the instruments to an audit sink so every lifecycle
// operation feeds the counters without the services knowing about metrics.
type AuditMetrics struct {
	m *Metrics
}

// NewAuditMetrics wraps instruments in an audit sink.
func NewAuditMetrics(m *Metrics) *AuditMetrics {
	return &AuditMetrics{m: m}
}

// Record counts one audit event. It never fails.
func (a *AuditMetrics) Record(ctx context.Context, e audit.Event) error {
	switch {
	case e.Outcome == audit.OutcomeFailed:
		a.m.OperationsFailed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("action", string(e.Action))))
	case e.Action == audit.ActionProvision && e.Outcome == audit.OutcomeOK:
		// Provisioning emits one event per step; count pipeline completions.
		if done, _ := e.Detail["completed"].(bool); done {
			a.m.TenantsProvisioned.Add(ctx, 1)
		}
	case e.Action == audit.ActionDelete && e.Outcome == audit.OutcomeOK:
		a.m.TenantsDeleted.Add(ctx, 1)
	case e.Action == audit.ActionPurge && e.Outcome == audit.OutcomeOK:
		a.m.TenantsPurged.Add(ctx, 1)
	}
	return nil
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenancy"

// StartProvisionSpan starts a span covering one tenant's provisioning
// pipeline.
func StartProvisionSpan(ctx context.Context, slug string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provision",
		trace.WithAttributes(
			attribute.String("tenant.slug", slug),
		),
	)
}

// StartBatchSpan starts a span for a fleet-wide lifecycle pass.
func StartBatchSpan(ctx context.Context, op string, tenants int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(
			attribute.Int("batch.tenants", tenants),
		),
	)
}

// StartTenantSpan starts a span for one per-tenant step within a batch.
func StartTenantSpan(ctx context.Context, op, slug string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(
			attribute.String("tenant.slug", slug),
		),
	)
}

package audit

import (
	"context"
	"log/slog"
)

// LogSink writes events to the structured log. It is the fallback trail when
// no durable sink is configured and never returns an error.
type LogSink struct{}

// Record logs one event.
func (LogSink) Record(_ context.Context, e Event) error {
	attrs := []any{
		"action", string(e.Action),
		"outcome", string(e.Outcome),
		"actor", e.Actor,
	}
	if e.TenantSlug != "" {
		attrs = append(attrs, "tenant", e.TenantSlug)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	slog.Info("audit event", attrs...)
	return nil
}

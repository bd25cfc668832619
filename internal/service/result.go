// Package service contains the tenant lifecycle application services.
package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/chronahq/tenancy/internal/port/audit"
)

// Result is the outcome of one tenant inside a batch operation.
type Result struct {
	Slug    string `json:"slug"`
	Detail  string `json:"detail,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Err     error  `json:"-"`
}

// OK reports whether the item neither failed nor was skipped.
func (r Result) OK() bool { return r.Err == nil && !r.Skipped }

// Report collects per-tenant Results for a batch command. One item's failure
// never stops the batch; the caller inspects Failed to decide the exit code.
type Report struct {
	Items []Result `json:"items"`
}

func (r *Report) add(item Result) { r.Items = append(r.Items, item) }

// Failed counts items that ended in error.
func (r *Report) Failed() int {
	n := 0
	for _, item := range r.Items {
		if item.Err != nil {
			n++
		}
	}
	return n
}

// Skipped counts items withheld by a safety or idempotence check.
func (r *Report) Skipped() int {
	n := 0
	for _, item := range r.Items {
		if item.Err == nil && item.Skipped {
			n++
		}
	}
	return n
}

// Succeeded counts items that completed.
func (r *Report) Succeeded() int { return len(r.Items) - r.Failed() - r.Skipped() }

// recordAudit delivers an audit event, filling in the actor. Delivery
// problems are logged and swallowed; audit must never block lifecycle work.
func recordAudit(ctx context.Context, sink audit.Sink, e audit.Event) {
	if sink == nil {
		return
	}
	if e.Actor == "" {
		e.Actor = actor()
	}
	if err := sink.Record(ctx, e); err != nil {
		slog.Warn("audit record failed", "action", e.Action, "tenant", e.TenantSlug, "error", err)
	}
}

func actor() string {
	if a := os.Getenv("TENANCY_ACTOR"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "tenancy"
}

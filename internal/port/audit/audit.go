// Package audit defines the structured audit sink port (interface).
package audit

import (
	"context"
	"time"
)

// Action identifies the lifecycle operation an event belongs to.
type Action string

const (
	ActionProvision Action = "provision"
	ActionMigrate   Action = "migrate"
	ActionSeed      Action = "seed"
	ActionBaseline  Action = "baseline"
	ActionDelete    Action = "delete"
	ActionRetention Action = "retention"
	ActionPurge     Action = "purge"
	ActionVerify    Action = "verify"
	ActionState     Action = "state"
	ActionMetrics   Action = "metrics"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// SubjectPrefix is the NATS subject root for published audit events; the
// action name is appended (tenancy.audit.purge, ...).
const SubjectPrefix = "tenancy.audit."

// Subject returns the NATS subject for an action.
func Subject(a Action) string { return SubjectPrefix + string(a) }

// Event is one structured audit record, keyed by tenant id and slug.
type Event struct {
	OccurredAt time.Time      `json:"occurred_at"`
	Actor      string         `json:"actor"`
	Action     Action         `json:"action"`
	TenantID   string         `json:"tenant_id,omitempty"`
	TenantSlug string         `json:"tenant_slug,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Sink receives audit events. Implementations must tolerate high event
// rates and must never block a lifecycle operation on delivery problems.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

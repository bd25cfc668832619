package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronahq/tenancy/internal/port/audit"
)

// AuditLog implements audit.Sink with durable rows in the registry. Rows
// have no foreign key back to tenants, so the trail survives purges.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates an AuditLog writing to tenant_audit_events.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Record inserts one audit event.
func (l *AuditLog) Record(ctx context.Context, e audit.Event) error {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	var detail []byte
	if len(e.Detail) > 0 {
		var err error
		detail, err = json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO tenant_audit_events (occurred_at, actor, action, tenant_id, tenant_slug, outcome, detail, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		occurred, e.Actor, string(e.Action), textOrNull(e.TenantID), e.TenantSlug, string(e.Outcome), detail, e.Error)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

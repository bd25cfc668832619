package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chronahq/tenancy/internal/port/audit"
)

// EventAuditPrefix prefixes the message type of relayed audit events; the
// action name follows (audit.provision, audit.purge, ...).
const EventAuditPrefix = "audit."

// BroadcastEvent marshals a typed payload and broadcasts it to every client.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// RelayAudit forwards one audit event to connected clients, honoring each
// connection's tenant filter. Its signature matches the NATS subscription
// handler so the hub can be wired directly to the stream.
func (h *Hub) RelayAudit(e audit.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("marshal audit event", "action", e.Action, "error", err)
		return
	}

	h.BroadcastToTenant(context.Background(), e.TenantSlug, Message{
		Type:    EventAuditPrefix + string(e.Action),
		Payload: json.RawMessage(data),
	})
}

// Package ws streams audit events to connected operator dashboards.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds one delivery so a stalled dashboard cannot hold
// the broadcast lock.
const writeTimeout = 5 * time.Second

// Message is the envelope every stream frame uses.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one dashboard connection. An empty slug subscribes to the
// whole fleet.
type client struct {
	sock *websocket.Conn
	stop context.CancelFunc
	slug string
}

// wants reports whether the client's filter admits events for slug.
func (c *client) wants(slug string) bool {
	return c.slug == "" || slug == "" || c.slug == slug
}

// Hub fans events out to every connected dashboard.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// HandleWS upgrades the request and keeps the connection in the fan-out
// set until it drops. A ?tenant=<slug> query narrows the feed to one
// tenant's events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy is the CORS middleware's job
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{sock: sock, stop: cancel, slug: r.URL.Query().Get("tenant")}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("event stream connected", "remote", r.RemoteAddr, "tenant", c.slug)

	go h.drain(ctx, c)
}

// drain consumes inbound frames until the peer goes away. The stream
// is one-directional, so everything read is discarded.
func (h *Hub) drain(ctx context.Context, c *client) {
	defer func() {
		h.drop(c)
		_ = c.sock.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.sock.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast delivers msg to every client regardless of filter.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	h.deliver(ctx, "", msg)
}

// BroadcastToTenant delivers msg to clients watching slug and to
// unfiltered clients.
func (h *Hub) BroadcastToTenant(ctx context.Context, slug string, msg Message) {
	h.deliver(ctx, slug, msg)
}

func (h *Hub) deliver(ctx context.Context, slug string, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		slog.Error("encode stream frame", "type", msg.Type, "error", err)
		return
	}

	var stale []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(slug) {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.sock.Write(wctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.drop(c)
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, live := h.clients[c]; live {
		c.stop()
		delete(h.clients, c)
		slog.Info("event stream disconnected", "tenant", c.slug)
	}
}

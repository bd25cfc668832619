// Package http serves the tenant lifecycle API.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/cache"
	"github.com/chronahq/tenancy/internal/service"
)

// Handlers bundles the services behind the ops/registration API.
type Handlers struct {
	Provision *service.ProvisionService
	Tenants   *service.TenantService
	Verify    *service.VerifyService

	// Cache fronts registry reads and health probes; nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration

	// Ping reports registry connectivity for the liveness endpoint.
	Ping func(ctx context.Context) error
}

// HandleSignup registers a tenant and provisions it end to end.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.SignupRequest](w, r)
	if !ok {
		return
	}

	t, err := h.Provision.ProvisionNew(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

// ListTenants returns registry rows, optionally filtered by ?status=.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	key := "tenants:" + status
	if h.serveCached(w, r, key) {
		return
	}

	tenants, err := h.Tenants.List(r.Context(), tenant.Filter{Status: tenant.Status(status)})
	if err != nil {
		writeDomainError(w, err, "tenants not found")
		return
	}

	h.writeAndCache(w, r, key, http.StatusOK, tenants)
}

// GetTenant returns one registry row by slug.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	slug := urlParam(r, "slug")

	key := "tenant:" + slug
	if h.serveCached(w, r, key) {
		return
	}

	t, err := h.Tenants.Get(r.Context(), slug)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}

	h.writeAndCache(w, r, key, http.StatusOK, t)
}

// TenantHealth runs the verification probe against one tenant. Results are
// cached briefly; probing hits the tenant database.
func (h *Handlers) TenantHealth(w http.ResponseWriter, r *http.Request) {
	slug := urlParam(r, "slug")

	key := "health:" + slug
	if h.serveCached(w, r, key) {
		return
	}

	health, err := h.Verify.Check(r.Context(), slug)
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}

	h.writeAndCache(w, r, key, http.StatusOK, health)
}

// Healthz reports service liveness, including registry connectivity.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status   string `json:"status"`
		Registry string `json:"registry"`
	}

	status := healthStatus{Status: "ok", Registry: "ok"}
	code := http.StatusOK
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Registry = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

// serveCached replays a cached JSON response when present. Cache problems
// fall through to a live read.
func (h *Handlers) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.Cache == nil {
		return false
	}
	data, ok, err := h.Cache.Get(r.Context(), key)
	if err != nil || !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return true
}

func (h *Handlers) writeAndCache(w http.ResponseWriter, r *http.Request, key string, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.Set(r.Context(), key, body, h.CacheTTL)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

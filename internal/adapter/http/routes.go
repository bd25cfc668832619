package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Signup (self-serve tenant registration)
		r.Post("/signup", h.HandleSignup)

		// Tenants (registry reads)
		r.Get("/tenants", h.ListTenants)
		r.Get("/tenants/{slug}", h.GetTenant)
		r.Get("/tenants/{slug}/health", h.TenantHealth)
	})
}

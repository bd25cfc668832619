// Package middleware provides HTTP middleware for the ops API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/chronahq/tenancy/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with a correlation ID. A caller-supplied
// X-Request-ID is kept so IDs stay stable across proxies; otherwise a
// fresh UUID is issued. The ID rides the context and the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

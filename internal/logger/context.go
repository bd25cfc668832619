package logger

import "context"

type ctxKey int

// requestIDKey carries the request correlation ID.
const requestIDKey ctxKey = iota

// WithRequestID stores the correlation ID for the request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the stored correlation ID, or "" when the request
// never passed through the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Package middleware holds small cross-cutting HTTP handlers that wrap the
// gateway's core protocol handler. RequestID is grounded on the
// request-correlation pattern used in yv-was-taken-stronghold's middleware
// package, adapted from fiber's c.Locals-based context passing to the
// standard library's context.Context.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey int

const requestIDKey contextKey = iota

// RequestIDHeader is the response header carrying the correlation id, so a
// caller can report it back when filing an issue.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns a UUID to every request that doesn't already carry one
// via RequestIDHeader, stores it in the request context, and echoes it back
// on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request id stored by RequestID, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

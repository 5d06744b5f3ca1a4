package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/canvasgate/canvasgate/internal/observability"
)

// maxClientRequestID bounds client-supplied request ids.
const maxClientRequestID = 64

// RequestID is an HTTP middleware that assigns a unique UUID v7 to each
// request. If the client already provides a short X-Request-ID header, that
// value is used instead. The ID is set on both the response header and
// the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxClientRequestID {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := observability.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context. Returns an empty
// string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	return observability.RequestIDFromContext(ctx)
}

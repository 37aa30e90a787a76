package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id, reusing a well-formed incoming
// X-Request-ID, and stores a logger tagged with it (and the active trace,
// when there is one) in the context
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.New().String()
			}

			ctx := observability.WithRequestID(r.Context(), id)
			requestLogger := observability.UpdateLoggerWithTraceContext(r.Context(), logger.WithField("request_id", id))
			ctx = observability.WithLogger(ctx, requestLogger)

			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

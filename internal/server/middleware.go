package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/taskmon/internal/pipeline"
	"github.com/psantana5/taskmon/pkg/logging"
)

// RequestIDHeader carries the invocation request id
const RequestIDHeader = "X-Request-Id"

// RequestIDMiddleware tags each invocation with a request id, taken from
// the X-Request-Id header or generated, and echoes it in the response.
func RequestIDMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Scrapes and probes are not invocations
			path := r.URL.Path
			if path == "/health" || path == "/metrics" || path == "/failures" {
				next.ServeHTTP(w, r)
				return
			}

			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(pipeline.WithRequestID(r.Context(), id)))
			log.Debug("request served", map[string]interface{}{
				"request_id": id,
				"path":       path,
				"duration":   time.Since(start).String(),
			})
		})
	}
}

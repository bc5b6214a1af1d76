package middleware

import (
	"net/http"
	"time"

	"github.com/retailiq/hub/internal/observability"
)

// Metrics returns middleware that records HTTP request count and duration.
// It must wrap the ServeMux directly: the mux sets r.Pattern on the request it receives, and
// the pattern (not the raw path) is used as the route label to bound cardinality.
// When metrics is nil, recording is skipped.
func Metrics(metrics observability.APIMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Context(), r.Method, r.Pattern, rw.statusCode, time.Since(start))
		})
	}
}

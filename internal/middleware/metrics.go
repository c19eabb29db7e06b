package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolist/edgeservice/internal/telemetry"
)

// unmatchedRoute labels requests no chi route claimed (gateway traffic, 404s).
const unmatchedRoute = "unmatched"

// NewMetricsMiddleware records request count, latency and errors per route pattern.
func NewMetricsMiddleware(metrics *telemetry.ServerMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RecordRequest(r.Context(), r.Method, routePattern(r), status,
				float64(time.Since(start).Microseconds())/1000)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	pattern := rctx.RoutePattern()
	if pattern == "" || pattern == "/*" {
		return unmatchedRoute
	}
	return pattern
}

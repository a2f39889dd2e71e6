package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/deal-escrow/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware observes API latency per chi route pattern, so every
// deal shares one series per endpoint. Scrapes and health checks of the process
// itself are not recorded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if operational(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

func operational(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health/")
}

const unmatchedRoute = "unmatched"

// routePattern falls back to unmatchedRoute so unknown paths cannot grow
// the label set.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/deal-escrow/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits fee quotes, gateway webhooks and dev tokens per
// client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "IP", httprate.KeyByIP)
}

// AuthRateLimiter limits deal and payment calls per authenticated user.
// Administrators get their own bucket so a busy party cannot starve
// dispute resolution.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "user", func(r *http.Request) (string, error) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			return httprate.KeyByIP(r)
		}
		return p.Role + ":" + p.UserID, nil
	})
}

func limiter(rps int, scope string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	detail := fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scope)
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests), detail)
		}),
	)
}

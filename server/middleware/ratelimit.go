package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/kbukum/conduit/errors"
	"github.com/kbukum/conduit/resilience"
)

// RateLimit refuses requests with 429 while limiter has no token. Health
// endpoints are never limited.
func RateLimit(limiter *resilience.RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthEndpoint(r.URL.Path) || limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			appErr := errors.RateLimited()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(appErr.HTTPStatus)
			_ = json.NewEncoder(w).Encode(appErr.ToResponse())
		})
	}
}

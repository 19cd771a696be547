package handler

import (
	"net/http"

	"golang.org/x/time/rate"
)

// BurstLimiter is a per-instance token bucket in front of the gate
// endpoints. It is unkeyed: keying it per caller would mean holding caller
// identifiers in memory, which this service does not do.
func BurstLimiter(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too many requests. Try again shortly."}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

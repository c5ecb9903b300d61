package ratelimit

import (
	"net"
	"net/http"
	"strconv"
)

// DefaultRetryAfterSeconds is the default value for the Retry-After header
// when a rate limit is exceeded.
const DefaultRetryAfterSeconds = 1

// Middleware enforces limits per key, as chosen by keyOf (RemoteIP by default).
//
// The middleware returns 429 Too Many Requests when the limit is exceeded,
// including:
//   - Retry-After header with the recommended wait time in seconds
//   - X-RateLimit-Remaining header with the approximate remaining requests
func Middleware(limiter *Limiter, keyOf func(r *http.Request) string) func(http.Handler) http.Handler {
	if keyOf == nil {
		keyOf = RemoteIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimiter := limiter.GetLimiter(key)
			if !rateLimiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("Too Many Requests"))
				return
			}

			remaining := int(rateLimiter.Tokens())
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIP keys requests by the client address without its port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

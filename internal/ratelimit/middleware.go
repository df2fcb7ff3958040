package ratelimit

import (
	"net/http"
	"strconv"

	"socratium/internal/util"
)

// Middleware limits requests by the key keyFunc derives from them. Rejected
// requests are handed to deny, which writes the response.
func Middleware(l *Limiter, keyFunc func(*http.Request) string, deny func(http.ResponseWriter, *http.Request, Decision)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), keyFunc(r))
			if err != nil {
				util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "err", err, "allowed", d.Allowed)
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				if d.RetryAfter > 0 {
					secs := int((d.RetryAfter + 999_999_999) / 1_000_000_000)
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				deny(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"ledgerly/internal/http/respond"
	"ledgerly/internal/ratelimit"
)

// KeyFunc extracts the rate limit key of a request. An empty key skips the
// limit.
type KeyFunc func(r *http.Request) string

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors let the request through.
func RateLimit(l ratelimit.Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := Allow(w, r, l, k)
			if err != nil {
				log.Warn().Str("component", "http.ratelimit").Err(err).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allow applies l to key, sets the X-RateLimit headers and writes the 429
// response when the budget is spent. It is for handlers whose key is only
// known after reading the body.
func Allow(w http.ResponseWriter, r *http.Request, l ratelimit.Limiter, key string) (bool, error) {
	d, err := l.Allow(r.Context(), key)
	if err != nil {
		return true, err
	}
	reset := strconv.Itoa(int(d.Reset.Seconds()))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", reset)
	if !d.Allowed {
		w.Header().Set("Retry-After", reset)
		respond.WriteJSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false, nil
	}
	return true, nil
}

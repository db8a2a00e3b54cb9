package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"rt-trace-monitor/internal/logging"
	"rt-trace-monitor/internal/telemetry"
)

// KeyFunc maps a request to its bucket key.
type KeyFunc func(r *http.Request) string

// ClientKey buckets requests by X-Client-ID, falling back to the remote host.
func ClientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host
}

// Middleware rejects requests with 429 once their bucket is empty and reports
// the bucket through X-RateLimit-Limit, X-RateLimit-Remaining and Retry-After.
// Limiter errors let the request through; the status API stays readable when
// Redis is down.
func Middleware(b *TokenBucket, key KeyFunc, logger logging.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientKey
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return func(next http.Handler) http.Handler {
		if b == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := b.Take(r.Context(), key(r))
			if err != nil {
				logger.Warn("rate limiter unavailable", logging.F("error", err))
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(b.Capacity()))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				if d.RetryAfter > 0 {
					h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				}
				telemetry.RateLimitRejects.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package gateway

import (
	"net"
	"net/http"
	"strconv"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/ratelimit"
	"github.com/basket/taskchat/internal/shared"
)

// rateLimit returns middleware enforcing the limiter for class. Auth
// endpoints count per client IP; the others per authenticated user with
// the IP as fallback. A failing limiter backend lets the request through.
func (s *Server) rateLimit(class ratelimit.Class) func(http.Handler) http.Handler {
	limiter := s.cfg.Limiters[class]
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if class != ratelimit.ClassAuth {
				if uid := shared.UserID(r.Context()); uid != "" {
					key = "user:" + uid
				}
			}

			d, err := limiter.Allow(r.Context(), string(class)+":"+key)
			if err != nil {
				s.logger.Warn("rate limiter unavailable, allowing request",
					"class", string(class), "trace_id", shared.TraceID(r.Context()), "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				s.cfg.Metrics.RecordRateLimitReject(r.Context(), string(class))
				audit.Deny(r.Context(), "ratelimit."+string(class), "limit exceeded", key)
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
				writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the host part of RemoteAddr. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/taskchat/internal/config"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
)

const defaultCORSMaxAge = 3600

// corsPolicy is the resolved form of config.CORSConfig. Sessions ride on a
// cookie, so allowed origins always get credentialed access and the origin
// is echoed back even for "*".
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]bool
	methods   string
	headers   string
	maxAge    string
}

func newCORSPolicy(cfg config.CORSConfig) corsPolicy {
	p := corsPolicy{origins: make(map[string]bool, len(cfg.AllowedOrigins))}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		if o != "" {
			p.origins[o] = true
		}
	}

	methods, headers, maxAge := cfg.AllowedMethods, cfg.AllowedHeaders, cfg.MaxAge
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAge
	}
	p.methods = strings.Join(methods, ", ")
	p.headers = strings.Join(headers, ", ")
	p.maxAge = strconv.Itoa(maxAge)
	return p
}

func (p corsPolicy) allows(origin string) bool {
	return origin != "" && (p.anyOrigin || p.origins[origin])
}

func (p corsPolicy) writeHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", p.methods)
	h.Set("Access-Control-Allow-Headers", p.headers)
	h.Set("Access-Control-Max-Age", p.maxAge)
	h.Add("Vary", "Origin")
}

// CORS applies the configured cross-origin policy. Simple requests from
// other origins still reach the handler, only without CORS headers; a
// preflight from an origin outside the allowlist is refused with 403.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := policy.allows(origin)
			if allowed {
				policy.writeHeaders(w.Header(), origin)
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			if origin != "" && !allowed {
				writeError(w, r, http.StatusForbidden, CodeAuthorization, "Origin not allowed")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// LimitBody caps request bodies at maxBytes.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

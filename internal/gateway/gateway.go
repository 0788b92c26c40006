// Package gateway is the HTTP surface: auth, task CRUD, chat, the live
// event websocket and operational endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/config"
	"github.com/basket/taskchat/internal/otel"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/ratelimit"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxBodyBytes = 1 << 20

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Store *persistence.Store
	Auth  *auth.Service
	Chat  *chat.Service
	Bus   *bus.Bus

	// Limiters maps an endpoint class to its limiter. A missing class is
	// not limited.
	Limiters map[ratelimit.Class]ratelimit.Limiter

	Cookie       config.CookieConfig
	CORS         config.CORSConfig
	MaxBodyBytes int64

	Tracer  trace.Tracer
	Metrics *otel.Metrics
	// Collect snapshots OpenTelemetry metrics for GET /metrics. Optional.
	Collect func(ctx context.Context) (*metricdata.ResourceMetrics, error)

	// Checks are extra readiness probes (for example Redis) run by /healthz.
	Checks map[string]HealthCheck

	ConfigFingerprint string
	Logger            *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "auth_token"
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger, tracer: otel.Tracer(cfg.Tracer)}
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	authLimit := s.rateLimit(ratelimit.ClassAuth)
	taskLimit := s.rateLimit(ratelimit.ClassTasks)
	chatLimit := s.rateLimit(ratelimit.ClassChat)

	mux.Handle("POST /auth/register", authLimit(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /auth/login", authLimit(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.Handle("GET /auth/me", s.requireUser(http.HandlerFunc(s.handleMe)))

	tasks := func(h http.HandlerFunc) http.Handler { return s.requireUser(taskLimit(h)) }
	mux.Handle("GET /tasks", tasks(s.handleListTasks))
	mux.Handle("POST /tasks", tasks(s.handleCreateTask))
	mux.Handle("POST /tasks/clear-completed", tasks(s.handleClearCompleted))
	mux.Handle("GET /tasks/{id}", tasks(s.handleGetTask))
	mux.Handle("PATCH /tasks/{id}", tasks(s.handleUpdateTask))
	mux.Handle("DELETE /tasks/{id}", tasks(s.handleDeleteTask))
	mux.Handle("POST /tasks/{id}/complete", tasks(s.handleSetCompleted(true)))
	mux.Handle("POST /tasks/{id}/uncomplete", tasks(s.handleSetCompleted(false)))

	mux.Handle("POST /chat", s.requireUser(chatLimit(http.HandlerFunc(s.handleChat))))
	mux.Handle("GET /chat/history", s.requireUser(http.HandlerFunc(s.handleChatHistory)))
	mux.Handle("DELETE /chat/history", s.requireUser(http.HandlerFunc(s.handleClearChatHistory)))
	mux.Handle("GET /chat/status", s.requireUser(http.HandlerFunc(s.handleChatStatus)))

	mux.Handle("GET /events", s.requireUser(http.HandlerFunc(s.handleEvents)))

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "Resource not found")
	})

	var h http.Handler = mux
	h = LimitBody(s.cfg.MaxBodyBytes)(h)
	h = CORS(s.cfg.CORS)(h)
	h = s.instrument(h)
	h = s.recoverer(h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if err := s.cfg.Store.Ping(ctx); err != nil {
		healthy = false
		checks["database"] = "unavailable"
		s.logger.Warn("health check failed", "check", "database", "error", err)
	} else {
		checks["database"] = "ok"
	}
	for name, check := range s.cfg.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = "unavailable"
			s.logger.Warn("health check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":    state,
		"checks":    checks,
		"demo_mode": s.cfg.Chat != nil && s.cfg.Chat.DemoMode(),
		"driver":    s.cfg.Store.Driver(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	payload := map[string]any{
		"audit_denies":    audit.DenyCount(),
		"alloc_bytes":     mem.Alloc,
		"goroutines":      runtime.NumGoroutine(),
		"bus_subscribers": s.cfg.Bus.SubscriberCount(),
		"bus_dropped":     s.cfg.Bus.Dropped(),
		"config_hash":     s.cfg.ConfigFingerprint,
	}
	if counts, err := s.cfg.Store.Counts(ctx); err == nil {
		payload["store"] = counts
	} else {
		s.logger.Warn("metrics: count rows failed", "error", err)
	}
	if s.cfg.Collect != nil {
		rm, err := s.cfg.Collect(ctx)
		if err != nil {
			s.logger.Warn("metrics: collect failed", "error", err)
		} else if rm != nil {
			payload["instruments"] = summarizeMetrics(rm)
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// summarizeMetrics flattens collected instruments to name -> total, summing
// counter values and histogram counts across attribute sets.
func summarizeMetrics(rm *metricdata.ResourceMetrics) map[string]any {
	out := map[string]any{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[m.Name] = total
			case metricdata.Sum[float64]:
				var total float64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[m.Name] = total
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				out[m.Name] = map[string]any{"count": count, "sum": sum}
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

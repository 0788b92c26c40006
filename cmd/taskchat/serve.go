package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/bus"
	"github.com/basket/taskchat/internal/channels"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/config"
	"github.com/basket/taskchat/internal/confirm"
	"github.com/basket/taskchat/internal/cron"
	"github.com/basket/taskchat/internal/engine"
	"github.com/basket/taskchat/internal/gateway"
	"github.com/basket/taskchat/internal/kv"
	otelPkg "github.com/basket/taskchat/internal/otel"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/ratelimit"
	"github.com/basket/taskchat/internal/telemetry"
	"github.com/basket/taskchat/internal/tui"
)

func newServeCmd() *cobra.Command {
	var daemon bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the HTTP API server. On a terminal a live status dashboard is shown;
use --daemon (or TASKCHAT_NO_TUI=1) to log to stdout instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), wantDashboard(daemon))
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "no dashboard, logs to stdout")
	return cmd
}

// wantDashboard reports whether serve should draw the status dashboard.
func wantDashboard(daemon bool) bool {
	return !daemon && isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("TASKCHAT_NO_TUI") == ""
}

func runServe(parent context.Context, interactive bool) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return startupError(nil, "E_CONFIG_LOAD", err)
	}

	// Audit before the logger so logger failures are audited too.
	if err := audit.Init(cfg.HomeDir); err != nil {
		return startupError(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	level := telemetry.NewLevel(cfg.LogLevel)
	// Quiet logs (file-only) while the dashboard owns the terminal.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, level, interactive)
	if err != nil {
		return startupError(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())
	if cfg.GeneratedSecret {
		logger.Warn("no jwt secret configured; using a generated one, sessions end on restart")
	}
	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.ToLower(strings.TrimSpace(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && !cfg.Auth.Cookie.Secure {
			logger.Warn("serving on a non-loopback address without secure cookies", "bind_addr", cfg.BindAddr)
		}
	}

	eventBus := bus.New()

	// No-op when disabled.
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		return startupError(logger, "E_OTEL_INIT", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return startupError(logger, "E_OTEL_METRICS", err)
	}

	store, err := persistence.Open(cfg.DatabaseDSN(), eventBus)
	if err != nil {
		return startupError(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetSink(store)
	logger.Info("startup phase", "phase", "schema_migrated", "driver", store.Driver())

	sh, err := newSharedState(ctx, cfg, logger)
	if err != nil {
		return startupError(logger, "E_REDIS_CONNECT", err)
	}
	defer sh.Close()

	brain, modelName := buildBrain(ctx, cfg, sh.kv, logger)

	chatSvc := chat.NewService(
		store,
		confirm.New(sh.kv, cfg.Chat.ConfirmationTTL(), nil),
		brain,
		eventBus,
		metrics,
		logger,
		chat.Config{
			LLMTimeout:       cfg.LLM.Timeout(),
			HistoryLimit:     cfg.Chat.HistoryLimit,
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			Model:            modelName,
		},
	)

	tokens := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL(), nil)
	authSvc := auth.NewService(store, tokens, auth.Config{
		BcryptCost:        cfg.Auth.BcryptCost,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
	}, logger)

	gw := gateway.New(gateway.Config{
		Store:             store,
		Auth:              authSvc,
		Chat:              chatSvc,
		Bus:               eventBus,
		Limiters:          sh.limiters,
		Cookie:            cfg.Auth.Cookie,
		CORS:              cfg.CORS,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		Tracer:            otelProvider.Tracer,
		Metrics:           metrics,
		Collect:           otelProvider.Collect,
		Checks:            sh.checks,
		ConfigFingerprint: cfg.Fingerprint(),
		Logger:            logger,
	})

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable; edits need a restart", "error", err)
	} else {
		go watchConfig(confWatcher, cfg, level, logger)
	}

	sched := cron.NewScheduler(cron.Config{Logger: logger})
	if err := cron.AddMaintenance(sched, cron.Maintenance{
		Store:             store,
		RetentionSchedule: cfg.Retention.Schedule,
		MessagesDays:      cfg.Retention.MessagesDays,
		AuditLogDays:      cfg.Retention.AuditLogDays,
		KV:                sh.sweepers,
		Limiters:          sh.evicters,
		EvictAfter:        time.Duration(cfg.RateLimit.EvictAfterMinutes) * time.Minute,
	}, logger); err != nil {
		return startupError(logger, "E_CRON_SCHEDULE", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	if tg := cfg.Channels.Telegram; tg.Enabled {
		if tg.Token == "" {
			logger.Warn("telegram channel enabled but token is missing")
		} else {
			links := make(map[int64]string, len(tg.Links))
			for _, l := range tg.Links {
				links[l.ChatID] = l.Email
			}
			ch := channels.NewTelegramChannel(tg.Token, links, chatSvc, store, logger)
			go func() {
				if err := ch.Start(ctx); err != nil {
					logger.Error("telegram channel failed", "error", err)
				}
			}()
		}
	}

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			err = fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr))
		}
		return startupError(logger, "E_LISTENER_BIND", err)
	}
	var lastErr atomic.Value
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", ln.Addr().String(), "demo_mode", chatSvc.DemoMode())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lastErr.Store(err.Error())
			serverErr <- err
		}
	}()

	if interactive {
		started := time.Now()
		go func() {
			err := tui.Run(ctx, func() tui.Snapshot {
				pctx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				snap := tui.Snapshot{
					DBOK:        store.Ping(pctx) == nil,
					Driver:      store.Driver(),
					Subscribers: eventBus.SubscriberCount(),
					AuditDenies: audit.DenyCount(),
					DemoMode:    chatSvc.DemoMode(),
					Model:       modelName,
					ListenAddr:  ln.Addr().String(),
					Uptime:      time.Since(started),
				}
				if counts, err := store.Counts(pctx); err == nil {
					snap.Users, snap.Tasks, snap.Messages = counts.Users, counts.Tasks, counts.Messages
				}
				if v, ok := lastErr.Load().(string); ok {
					snap.LastError = v
				}
				return snap
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("dashboard exited with error", "error", err)
			}
			stop()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
		logger.Error("gateway server error", "error", runErr)
	}

	// Stop intake, then give in-flight requests the drain window.
	drain := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
	if drain <= 0 {
		drain = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http drain incomplete", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

// sharedState is the cross-request state that moves to Redis when one is
// configured: confirmations, breaker state and rate-limit windows.
type sharedState struct {
	kv       kv.Store
	limiters map[ratelimit.Class]ratelimit.Limiter
	checks   map[string]gateway.HealthCheck
	sweepers []cron.Sweeper
	evicters []cron.Evicter
}

func newSharedState(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sharedState, error) {
	sh := &sharedState{
		limiters: make(map[ratelimit.Class]ratelimit.Limiter),
		checks:   make(map[string]gateway.HealthCheck),
	}

	var rdb *kv.Redis
	if cfg.Redis.URL != "" {
		r, err := kv.NewRedis(ctx, cfg.Redis.URL, "taskchat:")
		if err != nil {
			return nil, err
		}
		rdb = r
		sh.kv = r
		sh.checks["redis"] = r.Ping
		logger.Info("shared state in redis")
	} else {
		mem := kv.NewMemory(nil)
		sh.kv = mem
		sh.sweepers = append(sh.sweepers, mem)
	}

	if !cfg.RateLimit.Enabled {
		return sh, nil
	}
	window := cfg.RateLimit.Window()
	for class, limit := range map[ratelimit.Class]int{
		ratelimit.ClassAuth:  cfg.RateLimit.AuthPerMinute,
		ratelimit.ClassTasks: cfg.RateLimit.TasksPerMinute,
		ratelimit.ClassChat:  cfg.RateLimit.ChatPerMinute,
	} {
		if limit <= 0 {
			continue
		}
		if rdb != nil {
			sh.limiters[class] = ratelimit.NewRedis(rdb.Client(), "taskchat:rl:", limit, window)
			continue
		}
		mem := ratelimit.NewMemory(limit, window, nil)
		sh.limiters[class] = mem
		sh.evicters = append(sh.evicters, mem)
	}
	return sh, nil
}

func (s *sharedState) Close() error {
	return s.kv.Close()
}

// buildBrain wires the configured provider and its fallbacks behind a
// failover brain. It returns a nil Brain (demo mode) when no provider is
// usable.
func buildBrain(ctx context.Context, cfg config.Config, store kv.Store, logger *slog.Logger) (engine.Brain, string) {
	if !cfg.LLMEnabled() {
		logger.Info("no LLM provider configured; chat runs in demo mode")
		return nil, ""
	}

	primary := config.NormalizeProviderName(cfg.LLM.Provider)
	names := append([]string{primary}, cfg.LLM.FallbackProviders...)

	var brains []engine.NamedBrain
	var modelName string
	seen := make(map[string]bool)
	for _, raw := range names {
		name := config.NormalizeProviderName(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		pc := cfg.Provider(name)
		b := engine.NewGenkitBrain(ctx, engine.BrainConfig{
			Provider: name,
			Model:    pc.Model,
			APIKey:   pc.APIKey,
			BaseURL:  pc.BaseURL,
		})
		if !b.Enabled() {
			logger.Warn("skipping LLM provider without credentials", "provider", name)
			continue
		}
		if modelName == "" {
			modelName = b.Model()
		}
		brains = append(brains, engine.NamedBrain{Name: name, Brain: b})
	}
	if len(brains) == 0 {
		return nil, ""
	}

	fb := engine.NewFailoverBrain(brains, engine.FailoverConfig{
		Threshold: cfg.LLM.FailoverThreshold,
		Cooldown:  time.Duration(cfg.LLM.FailoverCooldownSeconds) * time.Second,
		State:     store,
		Logger:    logger,
	})
	fb.LoadBreakerState(ctx)
	logger.Info("startup phase", "phase", "brain_ready", "providers", len(brains), "model", modelName)
	return fb, modelName
}

// watchConfig applies the settings that can change at runtime (the log
// level) and flags the rest as needing a restart.
func watchConfig(w *config.Watcher, running config.Config, level *slog.LevelVar, logger *slog.Logger) {
	for ev := range w.Events() {
		if ev.Err != nil {
			logger.Error("config.yaml reload rejected; keeping previous settings", "error", ev.Err)
			continue
		}
		next := ev.Config
		level.Set(telemetry.ParseLevel(next.LogLevel))
		logger.Info("config hot-reloaded", "log_level", next.LogLevel)

		next.LogLevel = running.LogLevel
		if next.Fingerprint() != running.Fingerprint() {
			logger.Warn("config changes need a restart to take effect",
				"running", running.Fingerprint(), "on_disk", next.Fingerprint())
		}
	}
}

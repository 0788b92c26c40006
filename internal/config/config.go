package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinJWTSecretBytes is the shortest signing secret accepted outside development.
const MinJWTSecretBytes = 32

type DatabaseConfig struct {
	// DSN is a SQLite file path or a postgres:// URL. Empty means
	// <home>/taskchat.db.
	DSN string `yaml:"dsn"`
}

type CookieConfig struct {
	Name     string `yaml:"name"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"` // lax, strict or none
	Domain   string `yaml:"domain"`
	Path     string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret           string       `yaml:"jwt_secret"`
	AllowInsecureSecret bool         `yaml:"allow_insecure_secret"`
	TokenTTLHours       int          `yaml:"token_ttl_hours"`
	BcryptCost          int          `yaml:"bcrypt_cost"`
	MinPasswordLength   int          `yaml:"min_password_length"`
	Cookie              CookieConfig `yaml:"cookie"`
}

// TokenTTL returns the session lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	WindowSeconds     int  `yaml:"window_seconds"`
	AuthPerMinute     int  `yaml:"auth_per_minute"`
	TasksPerMinute    int  `yaml:"tasks_per_minute"`
	ChatPerMinute     int  `yaml:"chat_per_minute"`
	EvictAfterMinutes int  `yaml:"evict_after_minutes"`
}

// Window returns the fixed window length.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ProviderConfig holds per-provider settings for the chat model.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type LLMConfig struct {
	// Provider names the active provider: "google", "anthropic", "openai",
	// "openrouter" or "openai_compatible". Empty or "none" runs in demo mode.
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// FallbackProviders are tried in order when the primary fails.
	FallbackProviders []string `yaml:"fallback_providers"`

	// FailoverThreshold is the number of consecutive failures before a
	// provider's circuit breaker trips.
	FailoverThreshold       int `yaml:"failover_threshold"`
	FailoverCooldownSeconds int `yaml:"failover_cooldown_seconds"`
}

// Timeout returns the per-call model deadline.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

type RedisConfig struct {
	// URL is a redis:// URL. Empty keeps shared state in process memory.
	URL string `yaml:"url"`
}

type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp-http, stdout or none
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

type RetentionConfig struct {
	MessagesDays int    `yaml:"messages_days"`
	AuditLogDays int    `yaml:"audit_log_days"`
	Schedule     string `yaml:"schedule"`
}

type ChatConfig struct {
	HistoryLimit           int `yaml:"history_limit"`
	MaxMessageLength       int `yaml:"max_message_length"`
	ConfirmationTTLMinutes int `yaml:"confirmation_ttl_minutes"`
}

// ConfirmationTTL returns how long a pending delete waits for a reply.
func (c ChatConfig) ConfirmationTTL() time.Duration {
	return time.Duration(c.ConfirmationTTLMinutes) * time.Minute
}

// TelegramLink binds a Telegram chat to a registered account.
type TelegramLink struct {
	ChatID int64  `yaml:"chat_id"`
	Email  string `yaml:"email"`
}

type TelegramConfig struct {
	Token   string         `yaml:"token"`
	Enabled bool           `yaml:"enabled"`
	Links   []TelegramLink `yaml:"links"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr            string `yaml:"bind_addr"`
	LogLevel            string `yaml:"log_level"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`
	DrainTimeoutSeconds int    `yaml:"drain_timeout_seconds"`

	Database  DatabaseConfig            `yaml:"database"`
	Auth      AuthConfig                `yaml:"auth"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	CORS      CORSConfig                `yaml:"cors"`
	LLM       LLMConfig                 `yaml:"llm"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Redis     RedisConfig               `yaml:"redis"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
	Retention RetentionConfig           `yaml:"retention"`
	Chat      ChatConfig                `yaml:"chat"`
	Channels  ChannelsConfig            `yaml:"channels"`

	// GeneratedSecret is set when Load had to invent a signing secret.
	GeneratedSecret bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the settings that shape request handling.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%t|redis=%t|llm=%s/%s|rl=%d/%d/%d/%d|origins=%v",
		c.BindAddr, c.LogLevel, c.Database.DSN != "", c.Redis.URL != "",
		c.LLM.Provider, c.LLM.Model,
		c.RateLimit.AuthPerMinute, c.RateLimit.TasksPerMinute, c.RateLimit.ChatPerMinute, c.RateLimit.WindowSeconds,
		c.CORS.AllowedOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// DatabaseDSN resolves the store location, defaulting to a file in the home dir.
func (c Config) DatabaseDSN() string {
	if strings.TrimSpace(c.Database.DSN) != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.HomeDir, "taskchat.db")
}

func defaultConfig() Config {
	return Config{
		BindAddr:            "127.0.0.1:8080",
		LogLevel:            "info",
		MaxBodyBytes:        1 << 20,
		DrainTimeoutSeconds: 5,
		Auth: AuthConfig{
			TokenTTLHours:     24,
			BcryptCost:        12,
			MinPasswordLength: 8,
			Cookie: CookieConfig{
				Name:     "auth_token",
				SameSite: "lax",
				Path:     "/",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			WindowSeconds:     60,
			AuthPerMinute:     10,
			TasksPerMinute:    100,
			ChatPerMinute:     30,
			EvictAfterMinutes: 10,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			MaxAge:         600,
		},
		LLM: LLMConfig{
			TimeoutSeconds:          10,
			FailoverThreshold:       5,
			FailoverCooldownSeconds: 300,
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "taskchat",
			SampleRate:  1.0,
		},
		Retention: RetentionConfig{
			MessagesDays: 90,
			AuditLogDays: 365,
			Schedule:     "@hourly",
		},
		Chat: ChatConfig{
			HistoryLimit:           50,
			MaxMessageLength:       10000,
			ConfirmationTTLMinutes: 10,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("TASKCHAT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskchat")
}

// Load reads config.yaml from the home dir, applies env overrides and
// defaults, and validates the result. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskchat home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	d := defaultConfig()
	if cfg.BindAddr == "" {
		cfg.BindAddr = d.BindAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = d.MaxBodyBytes
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = d.DrainTimeoutSeconds
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = d.Auth.TokenTTLHours
	}
	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = d.Auth.BcryptCost
	}
	if cfg.Auth.MinPasswordLength <= 0 {
		cfg.Auth.MinPasswordLength = d.Auth.MinPasswordLength
	}
	if cfg.Auth.Cookie.Name == "" {
		cfg.Auth.Cookie.Name = d.Auth.Cookie.Name
	}
	if cfg.Auth.Cookie.Path == "" {
		cfg.Auth.Cookie.Path = d.Auth.Cookie.Path
	}
	cfg.Auth.Cookie.SameSite = strings.ToLower(strings.TrimSpace(cfg.Auth.Cookie.SameSite))
	if cfg.Auth.Cookie.SameSite == "" {
		cfg.Auth.Cookie.SameSite = d.Auth.Cookie.SameSite
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = d.RateLimit.WindowSeconds
	}
	if cfg.RateLimit.AuthPerMinute <= 0 {
		cfg.RateLimit.AuthPerMinute = d.RateLimit.AuthPerMinute
	}
	if cfg.RateLimit.TasksPerMinute <= 0 {
		cfg.RateLimit.TasksPerMinute = d.RateLimit.TasksPerMinute
	}
	if cfg.RateLimit.ChatPerMinute <= 0 {
		cfg.RateLimit.ChatPerMinute = d.RateLimit.ChatPerMinute
	}
	if cfg.RateLimit.EvictAfterMinutes <= 0 {
		cfg.RateLimit.EvictAfterMinutes = d.RateLimit.EvictAfterMinutes
	}
	if len(cfg.CORS.AllowedMethods) == 0 {
		cfg.CORS.AllowedMethods = d.CORS.AllowedMethods
	}
	if len(cfg.CORS.AllowedHeaders) == 0 {
		cfg.CORS.AllowedHeaders = d.CORS.AllowedHeaders
	}
	cfg.LLM.Provider = NormalizeProviderName(cfg.LLM.Provider)
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = d.LLM.TimeoutSeconds
	}
	if cfg.LLM.FailoverThreshold <= 0 {
		cfg.LLM.FailoverThreshold = d.LLM.FailoverThreshold
	}
	if cfg.LLM.FailoverCooldownSeconds <= 0 {
		cfg.LLM.FailoverCooldownSeconds = d.LLM.FailoverCooldownSeconds
	}
	for i, p := range cfg.LLM.FallbackProviders {
		cfg.LLM.FallbackProviders[i] = NormalizeProviderName(p)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = d.Telemetry.Exporter
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = d.Retention.Schedule
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = d.Chat.HistoryLimit
	}
	if cfg.Chat.MaxMessageLength <= 0 {
		cfg.Chat.MaxMessageLength = d.Chat.MaxMessageLength
	}
	if cfg.Chat.ConfirmationTTLMinutes <= 0 {
		cfg.Chat.ConfirmationTTLMinutes = d.Chat.ConfirmationTTLMinutes
	}
}

func validate(cfg *Config) error {
	switch cfg.Auth.Cookie.SameSite {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("auth.cookie.same_site must be lax, strict or none, got %q", cfg.Auth.Cookie.SameSite)
	}
	if cfg.Auth.Cookie.SameSite == "none" && !cfg.Auth.Cookie.Secure {
		return fmt.Errorf("auth.cookie.same_site=none requires auth.cookie.secure=true")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", cfg.Auth.BcryptCost)
	}
	if len(cfg.Auth.JWTSecret) < MinJWTSecretBytes {
		if !cfg.Auth.AllowInsecureSecret {
			return fmt.Errorf("auth.jwt_secret must be at least %d bytes (set JWT_SECRET)", MinJWTSecretBytes)
		}
		if cfg.Auth.JWTSecret == "" {
			secret, err := randomSecret()
			if err != nil {
				return fmt.Errorf("generate jwt secret: %w", err)
			}
			cfg.Auth.JWTSecret = secret
			cfg.GeneratedSecret = true
		}
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, MinJWTSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NormalizeProviderName folds aliases onto the canonical provider names.
func NormalizeProviderName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "gemini", "googleai", "google_ai":
		return "google"
	case "claude":
		return "anthropic"
	case "openai-compatible", "compat":
		return "openai_compatible"
	case "", "none", "demo", "off":
		return ""
	}
	return n
}

// ProviderAPIKey returns the API key for the given provider, checking env overrides first.
func (c Config) ProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":     "GEMINI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok {
			return p.APIKey
		}
	}
	return ""
}

// Provider returns the stored settings for a provider with the API key resolved.
func (c Config) Provider(name string) ProviderConfig {
	p := c.Providers[name]
	p.APIKey = c.ProviderAPIKey(name)
	if name == c.LLM.Provider && c.LLM.Model != "" {
		p.Model = c.LLM.Model
	}
	return p
}

// LLMEnabled reports whether a provider and key are configured. When false
// the chat facade runs in demo mode.
func (c Config) LLMEnabled() bool {
	if c.LLM.Provider == "" {
		return false
	}
	if c.LLM.Provider == "openai_compatible" {
		return c.Provider(c.LLM.Provider).BaseURL != ""
	}
	return c.ProviderAPIKey(c.LLM.Provider) != ""
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKCHAT_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKCHAT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.Database.DSN = raw
	}
	if raw := os.Getenv("JWT_SECRET"); raw != "" {
		cfg.Auth.JWTSecret = raw
	}
	if raw := os.Getenv("JWT_EXPIRATION_HOURS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Auth.TokenTTLHours = v
		}
	}
	if raw := os.Getenv("COOKIE_SECURE"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Auth.Cookie.Secure = v
		}
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		cfg.Redis.URL = raw
	}
	if raw := os.Getenv("FRONTEND_URL"); raw != "" {
		found := false
		for _, o := range cfg.CORS.AllowedOrigins {
			if o == raw {
				found = true
				break
			}
		}
		if !found {
			cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, raw)
		}
	}
	if raw := os.Getenv("LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("LLM_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.LLM.TimeoutSeconds = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); raw != "" {
		cfg.Telemetry.Endpoint = raw
	}
}

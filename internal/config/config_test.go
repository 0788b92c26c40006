package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskchat/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	home := t.TempDir()
	if body != "" {
		if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	t.Setenv("TASKCHAT_HOME", home)
	return home
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"JWT_SECRET", "DATABASE_URL", "REDIS_URL", "FRONTEND_URL", "LLM_PROVIDER", "LLM_MODEL",
		"GEMINI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY",
		"TASKCHAT_BIND_ADDR", "TASKCHAT_LOG_LEVEL", "COOKIE_SECURE", "TELEGRAM_TOKEN",
		"JWT_EXPIRATION_HOURS", "LLM_TIMEOUT_SECONDS", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	home := writeConfig(t, "")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected home %q, got %q", home, cfg.HomeDir)
	}
	if cfg.Auth.TokenTTL() != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %v", cfg.Auth.TokenTTL())
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Fatalf("expected bcrypt cost 12, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.Auth.Cookie.Name != "auth_token" || cfg.Auth.Cookie.SameSite != "lax" {
		t.Fatalf("unexpected cookie defaults: %+v", cfg.Auth.Cookie)
	}
	if cfg.RateLimit.AuthPerMinute != 10 || cfg.RateLimit.TasksPerMinute != 100 || cfg.RateLimit.ChatPerMinute != 30 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Fatalf("expected 60s window, got %v", cfg.RateLimit.Window())
	}
	if cfg.LLM.Timeout() != 10*time.Second {
		t.Fatalf("expected 10s llm timeout, got %v", cfg.LLM.Timeout())
	}
	if cfg.Chat.HistoryLimit != 50 || cfg.Chat.MaxMessageLength != 10000 {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.DatabaseDSN() != filepath.Join(home, "taskchat.db") {
		t.Fatalf("unexpected default dsn %q", cfg.DatabaseDSN())
	}
	if cfg.LLMEnabled() {
		t.Fatal("expected demo mode with no provider configured")
	}
}

func TestLoad_FromYAML(t *testing.T) {
	clearEnv(t)
	writeConfig(t, `
bind_addr: 0.0.0.0:9000
auth:
  jwt_secret: `+testSecret+`
  cookie:
    secure: true
    same_site: Strict
rate_limit:
  tasks_per_minute: 5
llm:
  provider: gemini
  model: gemini-2.5-flash
channels:
  telegram:
    enabled: true
    links:
      - chat_id: 42
        email: a@example.com
`)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" {
		t.Fatalf("unexpected bind addr %q", cfg.BindAddr)
	}
	if !cfg.Auth.Cookie.Secure || cfg.Auth.Cookie.SameSite != "strict" {
		t.Fatalf("unexpected cookie config: %+v", cfg.Auth.Cookie)
	}
	if cfg.RateLimit.TasksPerMinute != 5 || cfg.RateLimit.AuthPerMinute != 10 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("expected gemini alias normalized to google, got %q", cfg.LLM.Provider)
	}
	if len(cfg.Channels.Telegram.Links) != 1 || cfg.Channels.Telegram.Links[0].ChatID != 42 {
		t.Fatalf("unexpected telegram links: %+v", cfg.Channels.Telegram.Links)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "bind_addr: 127.0.0.1:1\n")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TASKCHAT_BIND_ADDR", "127.0.0.1:2")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("FRONTEND_URL", "https://app.example.com")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:2" {
		t.Fatalf("expected env bind addr, got %q", cfg.BindAddr)
	}
	if cfg.DatabaseDSN() != "postgres://u:p@localhost/db" {
		t.Fatalf("unexpected dsn %q", cfg.DatabaseDSN())
	}
	found := false
	for _, o := range cfg.CORS.AllowedOrigins {
		if o == "https://app.example.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected FRONTEND_URL in origins: %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.LLMEnabled() {
		t.Fatal("expected llm enabled with provider and key")
	}
	if got := cfg.Provider("anthropic").APIKey; got != "sk-test" {
		t.Fatalf("expected env api key, got %q", got)
	}
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "")
	t.Setenv("JWT_SECRET", "short")

	_, err := config.Load()
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestLoad_GeneratesSecretWhenInsecureAllowed(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "auth:\n  allow_insecure_secret: true\n")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.GeneratedSecret || len(cfg.Auth.JWTSecret) < config.MinJWTSecretBytes {
		t.Fatalf("expected generated secret, got %+v", cfg.Auth)
	}
}

func TestLoad_SameSiteNoneRequiresSecure(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\n  cookie:\n    same_site: none\n")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for same_site=none without secure")
	}
}

func TestFingerprint_ChangesWithSettings(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "")
	t.Setenv("JWT_SECRET", testSecret)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a := cfg.Fingerprint()
	cfg.RateLimit.ChatPerMinute++
	if a == cfg.Fingerprint() {
		t.Fatal("expected fingerprint to change")
	}
	if !strings.HasPrefix(a, "cfg-") {
		t.Fatalf("unexpected fingerprint format %q", a)
	}
}

func TestNormalizeProviderName(t *testing.T) {
	cases := map[string]string{
		"Gemini":            "google",
		"claude":            "anthropic",
		"openai":            "openai",
		"none":              "",
		"openai-compatible": "openai_compatible",
	}
	for in, want := range cases {
		if got := config.NormalizeProviderName(in); got != want {
			t.Fatalf("NormalizeProviderName(%q) = %q, want %q", in, got, want)
		}
	}
}

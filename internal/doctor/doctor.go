// Package doctor runs the offline and online checks behind "taskchat doctor".
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/taskchat/internal/config"
	"github.com/basket/taskchat/internal/kv"
	"github.com/basket/taskchat/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed counts FAIL results.
func (d Diagnosis) Failed() int {
	n := 0
	for _, r := range d.Results {
		if r.Status == StatusFail {
			n++
		}
	}
	return n
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks. cfg may be nil when config.yaml
// failed to load.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkSecret,
		checkLLM,
		checkDatabase,
		checkRedis,
		checkPermissions,
		checkNetwork,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	path := filepath.Join(cfg.HomeDir, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: "No config.yaml; using defaults and environment", Detail: path}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", path), Detail: cfg.Fingerprint()}
}

func checkSecret(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "JWT Secret", Status: StatusSkip, Message: "Config missing"}
	}
	if cfg.GeneratedSecret {
		return CheckResult{
			Name:    "JWT Secret",
			Status:  StatusWarn,
			Message: "No secret configured; sessions will not survive a restart",
			Detail:  "Set JWT_SECRET or auth.jwt_secret",
		}
	}
	if len(cfg.Auth.JWTSecret) < config.MinJWTSecretBytes {
		return CheckResult{
			Name:    "JWT Secret",
			Status:  StatusWarn,
			Message: fmt.Sprintf("Secret is short (%d bytes, want %d+)", len(cfg.Auth.JWTSecret), config.MinJWTSecretBytes),
		}
	}
	return CheckResult{Name: "JWT Secret", Status: StatusPass, Message: "Configured"}
}

func checkLLM(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "LLM", Status: StatusSkip, Message: "Config missing"}
	}
	provider := cfg.LLM.Provider
	if provider == "" {
		return CheckResult{Name: "LLM", Status: StatusWarn, Message: "No provider configured; chat runs in demo mode"}
	}
	if !cfg.LLMEnabled() {
		return CheckResult{
			Name:    "LLM",
			Status:  StatusWarn,
			Message: fmt.Sprintf("Provider %q has no credentials; chat runs in demo mode", provider),
			Detail:  "Set the provider API key (or base_url for openai_compatible)",
		}
	}
	model := cfg.Provider(provider).Model
	if model == "" {
		model = "provider default"
	}
	return CheckResult{Name: "LLM", Status: StatusPass, Message: fmt.Sprintf("%s (%s)", provider, model)}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: StatusSkip, Message: "Config missing"}
	}
	store, err := persistence.Open(cfg.DatabaseDSN(), nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	probe := time.Now().UTC().Format(time.RFC3339Nano)
	if err := store.KVSet(ctx, "doctor.probe", probe); err != nil {
		return CheckResult{Name: "Database", Status: StatusFail, Message: fmt.Sprintf("Write failed: %v", err)}
	}
	if got, err := store.KVGet(ctx, "doctor.probe"); err != nil || got != probe {
		return CheckResult{Name: "Database", Status: StatusFail, Message: "Write not readable back"}
	}
	return CheckResult{
		Name:    "Database",
		Status:  StatusPass,
		Message: fmt.Sprintf("%s schema valid", store.Driver()),
		Detail:  fmt.Sprintf("users=%d tasks=%d messages=%d", counts.Users, counts.Tasks, counts.Messages),
	}
}

func checkRedis(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Redis.URL == "" {
		return CheckResult{Name: "Redis", Status: StatusSkip, Message: "Not configured; shared state is in memory"}
	}
	r, err := kv.NewRedis(ctx, cfg.Redis.URL, "taskchat:")
	if err != nil {
		return CheckResult{Name: "Redis", Status: StatusFail, Message: err.Error()}
	}
	defer r.Close()
	return CheckResult{Name: "Redis", Status: StatusPass, Message: "Reachable"}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

var providerHosts = map[string]string{
	"google":     "generativelanguage.googleapis.com",
	"anthropic":  "api.anthropic.com",
	"openai":     "api.openai.com",
	"openrouter": "openrouter.ai",
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.LLMEnabled() {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "No LLM provider to reach"}
	}
	provider := cfg.LLM.Provider
	host, ok := providerHosts[provider]
	if !ok {
		u := cfg.Provider(provider).BaseURL
		h, err := hostOf(u)
		if err != nil {
			return CheckResult{Name: "Network", Status: StatusFail, Message: fmt.Sprintf("Bad base_url %q: %v", u, err)}
		}
		host = h
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s", provider),
	}
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host")
	}
	return u.Hostname(), nil
}

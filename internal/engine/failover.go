package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/taskchat/internal/kv"
)

const (
	defaultFailoverThreshold = 5
	defaultFailoverCooldown  = 5 * time.Minute
	breakerKeyPrefix         = "cb:"
)

// NamedBrain pairs a Brain with the provider name its breaker is keyed by.
type NamedBrain struct {
	Name  string
	Brain Brain
}

// FailoverConfig tunes a FailoverBrain. Zero values take the defaults.
type FailoverConfig struct {
	// Threshold is the number of consecutive failures that opens a breaker.
	Threshold int
	// Cooldown is how long an open breaker skips its provider.
	Cooldown time.Duration
	// State, when set, shares breaker state between processes.
	State  kv.Store
	Logger *slog.Logger
}

// breaker is the circuit state of one provider. Its JSON form is what goes
// to the kv store.
type breaker struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	Open        bool      `json:"tripped"`
}

// closedAt reports whether calls may go through at now, closing the breaker
// once the cooldown has passed.
func (b *breaker) closedAt(now time.Time, cooldown time.Duration) bool {
	if !b.Open {
		return true
	}
	if now.Sub(b.LastFailure) < cooldown {
		return false
	}
	*b = breaker{}
	return true
}

// FailoverBrain tries providers in order, skipping any whose breaker is
// open. It implements Brain.
type FailoverBrain struct {
	providers []NamedBrain
	cfg       FailoverConfig
	logger    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*breaker
	now      func() time.Time
}

// NewFailoverBrain returns a Brain over providers, first one preferred.
func NewFailoverBrain(providers []NamedBrain, cfg FailoverConfig) *FailoverBrain {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultFailoverThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultFailoverCooldown
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[string]*breaker, len(providers))
	for _, p := range providers {
		breakers[p.Name] = &breaker{}
	}
	return &FailoverBrain{
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		breakers:  breakers,
		now:       time.Now,
	}
}

// SetClock replaces the breaker clock. Used by tests.
func (fb *FailoverBrain) SetClock(now func() time.Time) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.now = now
}

// Complete returns the first successful answer. A context overflow ends the
// walk because every provider gets the same prompt, and so does a cancelled
// ctx. Providers without credentials are passed over without penalty.
func (fb *FailoverBrain) Complete(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for _, p := range fb.providers {
		if !fb.allow(p.Name) {
			fb.logger.Info("failover: skipping provider with open breaker", "provider", p.Name)
			continue
		}

		out, err := p.Brain.Complete(ctx, system, prompt)
		switch {
		case err == nil:
			fb.succeeded(ctx, p.Name)
			return out, nil
		case errors.Is(err, ErrBrainDisabled):
			continue
		}

		lastErr = err
		class := ClassifyError(err)
		fb.failed(ctx, p.Name)
		fb.logger.Warn("failover: provider failed", "provider", p.Name, "error_class", string(class), "error", err)

		if class == ErrorClassContextOverflow {
			return "", fmt.Errorf("failover: %s rejected prompt size: %w", p.Name, err)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("failover: %w", ctx.Err())
		}
	}
	if lastErr == nil {
		return "", ErrBrainDisabled
	}
	return "", fmt.Errorf("failover: all providers failed, last error: %w", lastErr)
}

func (fb *FailoverBrain) allow(name string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	b := fb.breaker(name)
	wasOpen := b.Open
	ok := b.closedAt(fb.now(), fb.cfg.Cooldown)
	if wasOpen && ok {
		fb.logger.Info("failover: breaker closed after cooldown", "provider", name)
	}
	return ok
}

func (fb *FailoverBrain) failed(ctx context.Context, name string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	b := fb.breaker(name)
	b.Failures++
	b.LastFailure = fb.now()
	if !b.Open && b.Failures >= fb.cfg.Threshold {
		b.Open = true
		fb.logger.Warn("failover: breaker opened", "provider", name, "failures", b.Failures)
	}
	fb.save(ctx, name, b)
}

func (fb *FailoverBrain) succeeded(ctx context.Context, name string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	b := fb.breaker(name)
	if b.Failures == 0 && !b.Open {
		return
	}
	*b = breaker{}
	fb.save(ctx, name, b)
}

// breaker returns name's breaker, creating it. fb.mu must be held.
func (fb *FailoverBrain) breaker(name string) *breaker {
	b, ok := fb.breakers[name]
	if !ok {
		b = &breaker{}
		fb.breakers[name] = b
	}
	return b
}

// save writes one breaker to the shared store. fb.mu must be held.
func (fb *FailoverBrain) save(ctx context.Context, name string, b *breaker) {
	if fb.cfg.State == nil {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	// Kept for two cooldowns so a restarted process still sees an open breaker.
	if err := fb.cfg.State.Set(context.WithoutCancel(ctx), breakerKeyPrefix+name, string(raw), 2*fb.cfg.Cooldown); err != nil {
		fb.logger.Debug("failover: save breaker failed", "provider", name, "error", err)
	}
}

// LoadBreakerState restores breakers saved by this or another process.
// Missing or unreadable entries leave the breaker closed.
func (fb *FailoverBrain) LoadBreakerState(ctx context.Context) {
	if fb.cfg.State == nil {
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for name, b := range fb.breakers {
		raw, err := fb.cfg.State.Get(ctx, breakerKeyPrefix+name)
		if err != nil {
			continue
		}
		var saved breaker
		if json.Unmarshal([]byte(raw), &saved) == nil {
			*b = saved
		}
	}
}

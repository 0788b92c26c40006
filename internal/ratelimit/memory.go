package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// window is the counter state for one key.
type window struct {
	mu         sync.Mutex
	count      int
	start      time.Time
	lastAccess time.Time
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	limit   int
	size    time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	windows map[string]*window
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates a limiter allowing limit requests per size window.
// A nil clock uses time.Now.
func NewMemory(limit int, size time.Duration, now func() time.Time) *Memory {
	if size <= 0 {
		size = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{
		limit:   limit,
		size:    size,
		now:     now,
		windows: make(map[string]*window),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	w := m.getWindow(key)
	now := m.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastAccess = now

	elapsed := now.Sub(w.start)
	if w.start.IsZero() || elapsed >= m.size {
		w.count = 1
		w.start = now
		return Decision{Allowed: true, Limit: m.limit, Remaining: max(m.limit-1, 0)}, nil
	}
	if w.count >= m.limit {
		return Decision{Allowed: false, Limit: m.limit, RetryAfter: m.size - elapsed}, nil
	}
	w.count++
	return Decision{Allowed: true, Limit: m.limit, Remaining: m.limit - w.count}, nil
}

// getWindow returns the window for key, creating one if needed.
func (m *Memory) getWindow(key string) *window {
	m.mu.RLock()
	w, ok := m.windows[key]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.windows[key]; ok {
		return w
	}
	w = &window{}
	m.windows[key] = w
	return w
}

// EvictStale removes windows that haven't been touched within maxAge and
// returns how many were dropped.
func (m *Memory) EvictStale(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, w := range m.windows {
		w.mu.Lock()
		stale := !w.lastAccess.After(cutoff)
		w.mu.Unlock()
		if stale {
			delete(m.windows, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("rate limiter eviction", "evicted", evicted, "remaining", len(m.windows))
	}
	return evicted
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.windows)
}

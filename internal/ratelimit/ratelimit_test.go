package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basket/taskchat/internal/ratelimit"
)

type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{cur: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemory_RejectsAfterLimit(t *testing.T) {
	c := newClock()
	rl := ratelimit.NewMemory(3, time.Minute, c.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, _ := rl.Allow(ctx, "k")
		if !d.Allowed {
			t.Fatalf("request %d rejected", i+1)
		}
		if d.Remaining != 2-i {
			t.Fatalf("request %d remaining = %d, want %d", i+1, d.Remaining, 2-i)
		}
	}
	c.Advance(20 * time.Second)
	d, _ := rl.Allow(ctx, "k")
	if d.Allowed {
		t.Fatal("4th request allowed")
	}
	if d.RetryAfter != 40*time.Second || d.RetryAfterSeconds() != 40 {
		t.Fatalf("retry after = %v (%ds), want 40s", d.RetryAfter, d.RetryAfterSeconds())
	}
}

func TestMemory_AllowsAfterWindowElapses(t *testing.T) {
	c := newClock()
	rl := ratelimit.NewMemory(1, time.Minute, c.Now)
	ctx := context.Background()

	if d, _ := rl.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("first request rejected")
	}
	if d, _ := rl.Allow(ctx, "k"); d.Allowed {
		t.Fatal("second request allowed in same window")
	}
	c.Advance(time.Minute)
	if d, _ := rl.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("request after window rejected")
	}
}

func TestMemory_RetryAfterRoundsUp(t *testing.T) {
	c := newClock()
	rl := ratelimit.NewMemory(1, time.Minute, c.Now)
	ctx := context.Background()
	_, _ = rl.Allow(ctx, "k")

	c.Advance(59*time.Second + 900*time.Millisecond)
	d, _ := rl.Allow(ctx, "k")
	if d.Allowed {
		t.Fatal("expected rejection")
	}
	if got := d.RetryAfterSeconds(); got != 1 {
		t.Fatalf("retry after seconds = %d, want 1", got)
	}
}

func TestMemory_PerKeyIsolation(t *testing.T) {
	rl := ratelimit.NewMemory(1, time.Minute, newClock().Now)
	ctx := context.Background()
	_, _ = rl.Allow(ctx, "a")
	if d, _ := rl.Allow(ctx, "a"); d.Allowed {
		t.Fatal("key a should be limited")
	}
	if d, _ := rl.Allow(ctx, "b"); !d.Allowed {
		t.Fatal("key b should have its own window")
	}
}

func TestMemory_ConcurrentCountIsExact(t *testing.T) {
	rl := ratelimit.NewMemory(50, time.Minute, newClock().Now)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := rl.Allow(ctx, "shared"); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Fatalf("allowed %d, want 50", allowed)
	}
}

func TestMemory_EvictStale(t *testing.T) {
	c := newClock()
	rl := ratelimit.NewMemory(10, time.Minute, c.Now)
	ctx := context.Background()
	for _, k := range []string{"k1", "k2", "k3"} {
		_, _ = rl.Allow(ctx, k)
	}
	if rl.Len() != 3 {
		t.Fatalf("len = %d, want 3", rl.Len())
	}
	if n := rl.EvictStale(time.Hour); n != 0 {
		t.Fatalf("evicted %d fresh windows", n)
	}
	c.Advance(2 * time.Hour)
	_, _ = rl.Allow(ctx, "k1")
	if n := rl.EvictStale(time.Hour); n != 2 {
		t.Fatalf("evicted %d, want 2", n)
	}
	if rl.Len() != 1 {
		t.Fatalf("len = %d, want 1", rl.Len())
	}
}

func TestDecision_RetryAfterSecondsWhenAllowed(t *testing.T) {
	if got := (ratelimit.Decision{Allowed: true, RetryAfter: time.Minute}).RetryAfterSeconds(); got != 0 {
		t.Fatalf("allowed decision retry = %d, want 0", got)
	}
	if got := (ratelimit.Decision{}).RetryAfterSeconds(); got != 1 {
		t.Fatalf("rejected decision retry = %d, want 1", got)
	}
}

func TestRedis_FixedWindow(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	prefix := fmt.Sprintf("taskchat-test:%d:", time.Now().UnixNano())
	rl := ratelimit.NewRedis(client, prefix, 2, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := rl.Allow(ctx, "k")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v, %v", i+1, d, err)
		}
	}
	d, err := rl.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfterSeconds() < 1 {
		t.Fatalf("third request decision %+v", d)
	}
}

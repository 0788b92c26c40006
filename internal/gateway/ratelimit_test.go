package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/basket/taskchat/internal/ratelimit"
)

type brokenLimiter struct{ calls int }

func (b *brokenLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	b.calls++
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestRateLimit_BackendFailureFailsOpen(t *testing.T) {
	limiter := &brokenLimiter{}
	env := newTestEnv(t, map[ratelimit.Class]ratelimit.Limiter{ratelimit.ClassAuth: limiter})

	resp, body := env.client(t).do("POST", "/auth/register", map[string]string{"email": "a@example.com", "password": "password123"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register with broken limiter: %d %v", resp.StatusCode, body)
	}
	if limiter.calls != 1 {
		t.Fatalf("limiter calls = %d", limiter.calls)
	}
}

func TestRateLimit_UnlimitedClassHasNoHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)
	c.signup("a@example.com")

	resp, _ := c.do("GET", "/tasks", nil)
	if resp.Header.Get("X-RateLimit-Limit") != "" {
		t.Fatal("unlimited class should not report limits")
	}
}

// Package ratelimit implements fixed-window request counting per key.
//
// A window opens on the first request for a key and lasts Window; requests
// beyond Limit inside it are rejected until it closes. Bursts straddling a
// window boundary can reach twice the limit.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// DefaultWindow is the window length used when none is configured.
const DefaultWindow = 60 * time.Second

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds. A rejected
// decision always reports at least one second.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Class names an endpoint group with its own limit.
type Class string

const (
	ClassAuth  Class = "auth"
	ClassTasks Class = "tasks"
	ClassChat  Class = "chat"
)

// Package kv is the shared key-value port behind per-user transient state
// (pending confirmations, provider circuit breakers). The memory adapter
// serves a single process; the Redis adapter lets several server processes
// observe the same entries.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("kv: miss")

// Store is a concurrency-safe key-value store. A zero or negative ttl means
// the entry does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

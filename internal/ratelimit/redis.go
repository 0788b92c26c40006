package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter, starts the window on the first
// hit and returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Redis is a fixed-window limiter shared by every process using the same
// Redis instance.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	size   time.Duration
}

var _ Limiter = (*Redis)(nil)

func NewRedis(client *redis.Client, prefix string, limit int, size time.Duration) *Redis {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Redis{client: client, prefix: prefix, limit: limit, size: size}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + key}, r.size.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if count > r.limit {
		return Decision{Allowed: false, Limit: r.limit, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Limit: r.limit, Remaining: r.limit - count}, nil
}

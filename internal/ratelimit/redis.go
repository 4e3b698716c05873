package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// incrementScript performs the read-modify-write as one indivisible store
// operation: the count and its expiry can never diverge under concurrent
// callers, and no increment is lost.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisCounter is the shared abuse counter backed by Redis. All operations
// are bounded by a per-call timeout and fail open on store errors.
type RedisCounter struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  *zap.Logger
}

var _ Counter = (*RedisCounter)(nil)

// NewRedisCounter builds a Redis-backed counter. A zero timeout falls back
// to 500ms so a slow store can never stall the login path.
func NewRedisCounter(client redis.UniversalClient, timeout time.Duration, logger *zap.Logger) *RedisCounter {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.L()
	}
	return &RedisCounter{client: client, timeout: timeout, logger: logger}
}

// IsLimited reports whether key's count has reached limit. Absent key or
// store failure both read as unlimited.
func (c *RedisCounter) IsLimited(ctx context.Context, key string, limit int) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	count, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("rate counter read failed", key, err)
		}
		return false
	}
	return count >= int64(limit)
}

// Increment atomically bumps the counter and arms the window expiry.
func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := incrementScript.Run(ctx, c.client, []string{key}, window.Milliseconds()).Err(); err != nil {
		c.warn("rate counter increment failed", key, err)
	}
}

// ResetAt surfaces the counter expiry as an absolute timestamp for
// retry-after messaging.
func (c *RedisCounter) ResetAt(ctx context.Context, key string) *time.Time {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("rate counter ttl failed", key, err)
		}
		return nil
	}
	if ttl <= 0 {
		return nil
	}
	at := time.Now().Add(ttl)
	return &at
}

// Reset drops the counter for key.
func (c *RedisCounter) Reset(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.warn("rate counter reset failed", key, err)
	}
}

func (c *RedisCounter) warn(msg, key string, err error) {
	c.logger.Warn(msg, zap.String("key", key), zap.Error(err))
}

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a fixed-window counter shared by every instance.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	scope  string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix, scope string, limit int, window time.Duration) *RedisLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "settlement:rate_limit"
	}
	return &RedisLimiter{client: client, prefix: prefix, scope: scope, limit: limit, window: window}
}

func (r *RedisLimiter) key(subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.scope, strings.TrimSpace(subject))
}

func (r *RedisLimiter) Allow(ctx context.Context, subject string) (bool, error) {
	if r == nil || r.client == nil || r.limit <= 0 || r.window <= 0 {
		return true, nil
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	count, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(subject)}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limiter unavailable: %w", err)
	}
	return count <= int64(r.limit), nil
}

// NewRedisClient parses url (redis://...) into a client.
func NewRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

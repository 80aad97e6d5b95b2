package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter throttles write endpoints per caller. It only sheds load; slot
// consistency never depends on it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type redisFixedWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewFixedWindowLimiter allows limit requests per key within each window.
func NewFixedWindowLimiter(client *redis.Client, limit int, window time.Duration, prefix string) Limiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &redisFixedWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func (l *redisFixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	fullKey := fmt.Sprintf("%s:%s", l.prefix, key)

	res, err := fixedWindowScript.Run(ctx, l.client, []string{fullKey}, l.window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}

	var count int64
	switch v := res.(type) {
	case int64:
		count = v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false, fmt.Errorf("rate limit result: %w", err)
		}
		count = n
	default:
		return false, fmt.Errorf("unexpected rate limit result type %T", res)
	}

	return count <= int64(l.limit), nil
}

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowTTL keeps window keys alive just past the second they count, so
// principals that go quiet leave nothing behind in Redis.
const redisWindowTTL = 2 * time.Second

// windowIncrScript counts a request in the principal's window and arms the
// key's expiry on first use, atomically.
var windowIncrScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return used
`)

// RedisLimiter throttles principals across replicas by counting each
// one-second window under a shared Redis key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter namespacing its keys with prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow spends one request from the principal's current window. Errors from
// Redis surface to the caller so the manager can trip its breaker.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if l == nil || l.client == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()

	raw, errEval := windowIncrScript.Run(ctx, l.client,
		[]string{l.windowKey(key, sec)}, int(redisWindowTTL.Seconds())).Result()
	if errEval != nil {
		return Result{}, fmt.Errorf("ratelimit: redis window incr: %w", errEval)
	}
	used, errReply := replyToInt64(raw)
	if errReply != nil {
		return Result{}, errReply
	}

	result := Result{Reset: time.Unix(sec+1, 0).UTC()}
	if used > int64(limit) {
		return result, nil
	}
	result.Allowed = true
	if remaining := limit - int(used); remaining > 0 {
		result.Remaining = remaining
	}
	return result, nil
}

// windowKey builds the Redis key for one principal's one-second window.
func (l *RedisLimiter) windowKey(key string, sec int64) string {
	if l.prefix == "" {
		return fmt.Sprintf("%s:%d", key, sec)
	}
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, sec)
}

// replyToInt64 normalizes the script reply, which go-redis may deliver under
// several integer types.
func replyToInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("ratelimit: unexpected redis reply type %T", raw)
	}
}

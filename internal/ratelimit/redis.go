package ratelimit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// fixedWindow increments the key, starts its expiry on the first hit and reports
// the count with the remaining TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter shares windows between replicas through Redis. Keys are hashed so
// identifiers such as e-mail addresses never appear in Redis.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisLimiter returns a limiter storing counters under prefix.
func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

// Check implements Limiter. Blocked requests still increment the counter but never
// extend the window.
func (l *RedisLimiter) Check(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	if err := validate(key, window, max); err != nil {
		return Result{}, err
	}
	sum := blake2b.Sum256([]byte(key))
	redisKey := l.prefix + hex.EncodeToString(sum[:16])

	vals, err := fixedWindow.Run(ctx, l.client, []string{redisKey}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis check: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply %v", vals)
	}
	count := int(vals[0])
	resetAt := l.now().Add(time.Duration(vals[1]) * time.Millisecond)
	return Result{
		Allowed:   count <= max,
		Count:     count,
		Remaining: remaining(max, count),
		ResetAt:   resetAt,
	}, nil
}

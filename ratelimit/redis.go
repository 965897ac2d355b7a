package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces limits against a shared Redis so quota accounting
// holds across instances. Scripts run server-side, keeping test-and-consume
// atomic without client-side locking. Fixed window and token bucket are
// supported; the log-based algorithms stay in-process.
type RedisLimiter struct {
	client    redis.UniversalClient
	defaults  map[Dimension]Limit
	overrides map[string]Limit
	prefix    string
	now       func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisPrefix namespaces all limiter keys. Default "arbiter:rl".
func WithRedisPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

// WithRedisOverride sets a per-key limit that wins over the dimension
// default.
func WithRedisOverride(identifier string, dim Dimension, limit Limit) RedisOption {
	return func(l *RedisLimiter) { l.overrides[overrideKey(identifier, dim)] = limit }
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redis.UniversalClient, defaults map[Dimension]Limit, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client:    client,
		defaults:  defaults,
		overrides: make(map[string]Limit),
		prefix:    "arbiter:rl",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// fixedWindowScript consumes weight inside the window key unless it would
// exceed the limit. The boundary timestamp is part of the key, so expiry is
// just housekeeping.
var fixedWindowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
if count + weight > limit then
	return {0, tostring(limit - count)}
end
redis.call('INCRBYFLOAT', KEYS[1], weight)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {1, tostring(limit - count - weight)}
`)

// tokenBucketScript refills by elapsed time, then consumes all-or-nothing.
var tokenBucketScript = redis.NewScript(`
local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local weight = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
	tokens = capacity
	ts = now_ms
end
tokens = math.min(capacity, tokens + (now_ms - ts) * refill_per_ms)
local allowed = 0
if tokens >= weight then
	tokens = tokens - weight
	allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now_ms)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {allowed, tostring(tokens)}
`)

// Check atomically tests and consumes quota in Redis. Unlike the in-memory
// limiter it can fail; callers decide whether to fail open or closed.
func (l *RedisLimiter) Check(ctx context.Context, identifier string, dim Dimension, weight float64) (Decision, error) {
	lim, ok := l.limitFor(identifier, dim)
	if !ok || lim.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	switch lim.Algorithm {
	case TokenBucket:
		return l.checkTokenBucket(ctx, identifier, dim, lim, weight)
	case FixedWindow:
		return l.checkFixedWindow(ctx, identifier, dim, lim, weight)
	default:
		return Decision{}, fmt.Errorf("ratelimit: algorithm %q not supported by redis limiter", lim.Algorithm)
	}
}

func (l *RedisLimiter) limitFor(identifier string, dim Dimension) (Limit, bool) {
	if lim, ok := l.overrides[overrideKey(identifier, dim)]; ok {
		return lim, true
	}
	lim, ok := l.defaults[dim]
	return lim, ok
}

func (l *RedisLimiter) checkFixedWindow(ctx context.Context, identifier string, dim Dimension, lim Limit, weight float64) (Decision, error) {
	now := l.now()
	boundary := now.Truncate(lim.Window)
	resetAt := boundary.Add(lim.Window)
	key := fmt.Sprintf("%s:%s:%s:%d", l.prefix, identifier, dim, boundary.UnixMilli())

	res, err := fixedWindowScript.Run(ctx, l.client, []string{key},
		lim.Limit, weight, (2 * lim.Window).Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis fixed window: %w", err)
	}

	allowed, remaining, err := parseScriptReply(res)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *RedisLimiter) checkTokenBucket(ctx context.Context, identifier string, dim Dimension, lim Limit, weight float64) (Decision, error) {
	now := l.now()
	key := fmt.Sprintf("%s:%s:%s:bucket", l.prefix, identifier, dim)

	// TTL long enough for an idle bucket to fully refill before it expires.
	ttl := 2 * time.Hour
	if lim.RefillRate > 0 {
		if refillTime := time.Duration(lim.Limit / lim.RefillRate * float64(time.Second)); refillTime > ttl {
			ttl = 2 * refillTime
		}
	}

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key},
		lim.Limit, lim.RefillRate/1000, weight, now.UnixMilli(), ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis token bucket: %w", err)
	}

	allowed, remaining, err := parseScriptReply(res)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: allowed, Remaining: remaining}
	if !allowed && lim.RefillRate > 0 {
		wait := (weight - remaining) / lim.RefillRate
		d.ResetAt = now.Add(time.Duration(wait * float64(time.Second)))
	}
	return d, nil
}

func parseScriptReply(res []interface{}) (allowed bool, remaining float64, err error) {
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	flag, ok := res[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	switch v := res[1].(type) {
	case string:
		remaining, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
		}
	case int64:
		remaining = float64(v)
	default:
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	return flag == 1, remaining, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of taking one token.
type Decision struct {
	Allowed bool
	// Remaining is the number of whole tokens left after this request.
	Remaining int
	// RetryAfter is how long until the next token; zero when allowed, negative
	// when the bucket never refills.
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every monitor instance
// serving the status API. Bucket state lives in one hash per key under
// trace:rl:.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// Option customises a TokenBucket.
type Option func(*TokenBucket)

// WithNow replaces the clock used to timestamp refills.
func WithNow(now func() time.Time) Option {
	return func(b *TokenBucket) { b.now = now }
}

// NewTokenBucket builds a bucket of capacity tokens refilled at refillPerSecond.
// A ttl <= 0 expires idle buckets once they would be full again.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration, opts ...Option) *TokenBucket {
	b := &TokenBucket{
		client:   client,
		prefix:   "trace:rl:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.ttl <= 0 && b.refill > 0 {
		b.ttl = time.Duration(math.Ceil(float64(capacity)/b.refill)) * time.Second
	}
	return b
}

// Capacity is the burst size of every bucket.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Take consumes one token from key's bucket if one is available.
func (b *TokenBucket) Take(ctx context.Context, key string) (Decision, error) {
	res, err := takeScript.Run(ctx, b.client, []string{b.prefix + key},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take token %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("take token %s: unexpected reply %v", key, res)
	}
	d := Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return d, nil
}

// Replies {allowed, whole tokens left, ms until the next token or -1}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
  ts = now
end

local allowed, wait = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif rate > 0 then
  wait = math.ceil((1 - tokens) * 1000 / rate)
else
  wait = -1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', ts)
if ttl > 0 then redis.call('PEXPIRE', KEYS[1], ttl) end
return {allowed, math.floor(tokens), wait}
`)

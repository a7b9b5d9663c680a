package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultRateLimitPrefix = "courier:ratelimit:"

// slidingWindow trims entries older than the window, then admits the call
// if fewer than limit remain. Returns {allowed, remaining, oldest_ms}.
var slidingWindow = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call("zremrangebyscore", key, "-inf", window_start)

	local current = redis.call("zcard", key)
	if current < limit then
		redis.call("zadd", key, now, now .. "-" .. math.random())
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1}
	end

	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	if #oldest > 0 then
		return {0, 0, oldest[2]}
	end
	return {0, 0, 0}
`)

type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	RetryIn   time.Duration
}

// RateLimiter is a sliding-window limiter keyed by arbitrary strings.
type RateLimiter struct {
	client    *Client
	keyPrefix string
	now       func() time.Time
}

func NewRateLimiter(client *Client, keyPrefix string) *RateLimiter {
	if keyPrefix == "" {
		keyPrefix = DefaultRateLimitPrefix
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (r *RateLimiter) Key(key string) string {
	return r.keyPrefix + key
}

func (r *RateLimiter) blockKey(key string) string {
	return r.Key(key) + ":block"
}

// BlockFor rejects every call for key until d elapses.
func (r *RateLimiter) BlockFor(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.blockKey(key), "1", d)
}

func (r *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	exists, err := r.client.Exists(ctx, r.blockKey(key))
	if err != nil || !exists {
		return false, 0, err
	}
	ttl, err := r.client.TTL(ctx, r.blockKey(key))
	if err != nil {
		return true, 0, err
	}
	return true, max(ttl, 0), nil
}

// Reset clears the window and any block for key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.Key(key), r.blockKey(key))
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	now := r.now()

	if blocked, ttl, err := r.IsBlocked(ctx, key); err == nil && blocked {
		return &RateLimitResult{
			Allowed: false,
			ResetAt: now.Add(ttl),
			RetryIn: ttl,
		}, nil
	}

	result, err := slidingWindow.Run(ctx, r.client.rdb, []string{r.Key(key)},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rate limit for %s: %w", key, err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected rate limit reply of length %d", len(result))
	}

	allowedFlag, err := toInt64(result[0])
	if err != nil {
		return nil, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return nil, err
	}

	res := &RateLimitResult{
		Allowed:   allowedFlag == 1,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}

	if !res.Allowed && len(result) > 2 {
		oldestMs, err := toInt64(result[2])
		if err != nil {
			return nil, err
		}
		if oldestMs > 0 {
			res.RetryIn = time.UnixMilli(oldestMs).Add(window).Sub(now)
		}
	}

	return res, nil
}

// ClaimLimiter caps how many claim attempts one agent can make per window.
type ClaimLimiter struct {
	limiter *RateLimiter
	limit   int64
	window  time.Duration
}

func NewClaimLimiter(limiter *RateLimiter, limit int64, window time.Duration) *ClaimLimiter {
	return &ClaimLimiter{
		limiter: limiter,
		limit:   limit,
		window:  window,
	}
}

func ClaimKey(agentID uuid.UUID) string {
	return "claim:" + agentID.String()
}

func (l *ClaimLimiter) AllowClaim(ctx context.Context, agentID uuid.UUID) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, ClaimKey(agentID), l.limit, l.window)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryIn, nil
}

// toInt64 normalizes Lua replies, which arrive as int64 or as strings for
// WITHSCORES results.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			return parsed, nil
		}
		f, ferr := strconv.ParseFloat(n, 64)
		if ferr != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

// Package ratelimit throttles callers with a Redis sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"keypool/internal/utils"
)

// DefaultWindow is the sliding window length
const DefaultWindow = time.Minute

// Limiter decides whether one more attempt under key is allowed
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NoopLimiter allows everything. Used when Redis is not configured.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// RateLimiter counts attempts per key in a sorted set scored by time
type RateLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRateLimiter creates a limiter with the default window
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, window: DefaultWindow}
}

func redisKey(id string) string {
	return "keypool:ratelimit:" + id
}

// AllowWithDetails records an attempt under id and reports whether it fits in
// limit, how many attempts remain and when the window resets. A limit of zero
// or less is unlimited: remaining is -1 and resetAt is zero.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, id string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	key := redisKey(id)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, 2*rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(countCmd.Val())
	remaining := max(limit-count-1, 0)
	return count < limit, remaining, now.Add(rl.window), nil
}

// GetCurrentUsage returns the number of attempts in the current window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, id string) (int64, error) {
	key := redisKey(id)
	windowStart := time.Now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset forgets every attempt under id
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	return rl.client.Del(ctx, redisKey(id)).Err()
}

// ForLimit binds the limiter to a fixed limit. Redis errors let the attempt through.
func (rl *RateLimiter) ForLimit(limit int) Limiter {
	return &boundLimiter{limiter: rl, limit: limit, logger: utils.NewLogger("ratelimit")}
}

type boundLimiter struct {
	limiter *RateLimiter
	limit   int
	logger  *utils.Logger
}

func (b *boundLimiter) Allow(ctx context.Context, key string) bool {
	allowed, _, _, err := b.limiter.AllowWithDetails(ctx, key, b.limit)
	if err != nil {
		b.logger.Warn("Rate limit check failed, allowing", "key", key, "error", err)
		return true
	}
	return allowed
}

// Package ratelimit implements a points-per-window budget backed by a
// fixed-window counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"roomdeck/pkg/models"
)

// Limiter enforces a points-per-window budget per key.
type Limiter struct {
	client goredis.UniversalClient
	limit  int64
	window time.Duration
}

func NewLimiter(client goredis.UniversalClient, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: int64(limit), window: window}
}

// Consume spends points against key's current window. On success it returns
// (0, nil); when the budget is exhausted it returns the time until the
// window resets and models.ErrRateLimited.
func (l *Limiter) Consume(ctx context.Context, key string, points int) (time.Duration, error) {
	redisKey := "ratelimit:" + key

	total, err := l.client.IncrBy(ctx, redisKey, int64(points)).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit incr: %w", err)
	}
	// First spend in this window starts the clock.
	if total == int64(points) {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return 0, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	if total <= l.limit {
		return 0, nil
	}

	ttl, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return ttl, models.ErrRateLimited
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/familyportal/devicelink/internal/testutil"
)

func testLimiter(t *testing.T, limiter Limiter) {
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		key := "test:ip1"
		limit := 3
		window := 10 * time.Second

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}

		allowed, resetAt := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed, "Request should be rate limited")
		assert.True(t, resetAt.After(time.Now()), "Reset time should be in future")
	})

	t.Run("sliding window behavior", func(t *testing.T) {
		key := "test:ip2"
		limit := 2
		window := 300 * time.Millisecond

		for i := 0; i < limit; i++ {
			allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
			assert.True(t, allowed)
		}
		allowed, _ := limiter.CheckLimit(ctx, key, limit, window)
		assert.False(t, allowed)

		time.Sleep(window + 100*time.Millisecond)

		allowed, _ = limiter.CheckLimit(ctx, key, limit, window)
		assert.True(t, allowed, "Request should be allowed after window expires")
	})

	t.Run("different keys are independent", func(t *testing.T) {
		limit := 1
		window := 10 * time.Second

		allowed, _ := limiter.CheckLimit(ctx, "test:ip3", limit, window)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:ip3", limit, window)
		assert.False(t, allowed)

		allowed, _ = limiter.CheckLimit(ctx, "test:ip4", limit, window)
		assert.True(t, allowed)
	})
}

func TestMemoryRateLimiter(t *testing.T) {
	testLimiter(t, NewMemoryRateLimiter())
}

func TestRedisRateLimiter(t *testing.T) {
	client := testutil.RedisClient(t)
	testLimiter(t, NewRedisRateLimiter(client))
}

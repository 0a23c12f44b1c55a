package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mogcia-app/signal/internal/config"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func limitConfig(enabled bool, rate float64, burst int) config.Config {
	return config.Config{
		AppName:   "signal",
		RateLimit: config.RateLimitConfig{Enabled: enabled, OwnerRate: rate, OwnerBurst: burst},
	}
}

func TestEventIngestLimiterDeniesPastBurst(t *testing.T) {
	limiter := NewEventIngestLimiter(limitConfig(true, 0.01, 2), newClient(t), zap.NewNop())
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.AllowOwner(ctx, "owner-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := limiter.AllowOwner(ctx, "owner-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.Positive(t, res.RetryAfter)

	other, err := limiter.AllowOwner(ctx, "owner-b")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestEventIngestLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewEventIngestLimiter(limitConfig(false, 1, 1), newClient(t), zap.NewNop()))
	assert.Nil(t, NewEventIngestLimiter(limitConfig(true, 1, 1), nil, zap.NewNop()))
	assert.Nil(t, NewEventIngestLimiter(limitConfig(true, 0, 1), newClient(t), zap.NewNop()))

	var limiter *EventIngestLimiter
	res, err := limiter.AllowOwner(context.Background(), "owner-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketValidatesInput(t *testing.T) {
	bucket := NewTokenBucket(newClient(t))
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", 1, 0)
	assert.Error(t, err)
	assert.Nil(t, NewTokenBucket(nil))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 20, int(defaultBucketTTL(1, 10).Seconds()))
	assert.Equal(t, 1, int(defaultBucketTTL(100, 1).Seconds()))
}

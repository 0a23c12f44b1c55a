package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/mogcia-app/signal/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyEventIngestOwner = "analytics:ingest:owner:%s"

// EventIngestLimiter caps analytics event mutations per owner. A nil limiter
// allows everything.
type EventIngestLimiter struct {
	bucket *TokenBucket
	prefix string
	rate   float64
	burst  int
}

func NewEventIngestLimiter(cfg config.Config, client redis.UniversalClient, log *zap.Logger) *EventIngestLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}
	if client == nil {
		log.Warn("rate limiting needs redis, ingest limits disabled")
		return nil
	}
	if limitCfg.OwnerRate <= 0 || limitCfg.OwnerBurst <= 0 {
		log.Warn("ingest rate limit must be positive, ingest limits disabled",
			zap.Float64("rate", limitCfg.OwnerRate),
			zap.Int("burst", limitCfg.OwnerBurst),
		)
		return nil
	}
	return &EventIngestLimiter{
		bucket: NewTokenBucket(client),
		prefix: strings.TrimSpace(cfg.AppName),
		rate:   limitCfg.OwnerRate,
		burst:  limitCfg.OwnerBurst,
	}
}

func (l *EventIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *EventIngestLimiter) AllowOwner(ctx context.Context, ownerID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyEventIngestOwner, strings.TrimSpace(ownerID))
	if l.prefix != "" {
		key = l.prefix + ":" + key
	}
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

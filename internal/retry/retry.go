// Package retry re-runs store operations that failed transiently.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/pkg/db"
)

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   time.Second,
	}
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return kpidomain.IsTransient(err) || db.IsRetryable(err)
}

// NewPolicy builds a jittered exponential backoff policy that only handles
// retryable errors.
func NewPolicy[T any](cfg Config) retrypolicy.RetryPolicy[T] {
	cfg = normalize(cfg)
	return retrypolicy.NewBuilder[T]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ T, err error) bool {
			return Retryable(err)
		}).
		Build()
}

// Do runs fn until it succeeds, fails permanently or runs out of retries.
// The error of the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := Get(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func Get[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := failsafe.With(NewPolicy[T](cfg)).WithContext(ctx).Get(func() (T, error) {
		return fn(ctx)
	})
	return out, lastError(err)
}

func lastError(err error) error {
	if err == nil {
		return nil
	}
	var exceeded interface{ LastError() error }
	if errors.As(err, &exceeded) && exceeded.LastError() != nil {
		return exceeded.LastError()
	}
	return err
}

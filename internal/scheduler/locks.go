package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/mogcia-app/signal/internal/observability/metrics"
	"go.uber.org/zap"
)

// JobLocker keeps a job to one replica at a time.
type JobLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) error
}

const lockTTLMargin = time.Minute

func jobLockName(job string) string {
	return "scheduler:" + job
}

// withJobLock runs fn while holding the job's lock. It returns
// obsmetrics.ErrLockHeld when another replica owns it. Without a locker fn
// runs unguarded.
func (s *Scheduler) withJobLock(ctx context.Context, job string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	name := jobLockName(job)
	token, ok, err := s.locker.TryLock(ctx, name, timeout+lockTTLMargin)
	if err != nil {
		return err
	}
	if !ok {
		return obsmetrics.ErrLockHeld
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), name, token); err != nil {
			s.logger(ctx).Warn("failed to release job lock", zap.String("job", job), zap.Error(err))
		}
	}()
	return fn(ctx)
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/kpi/reconcile"
	"github.com/mogcia-app/signal/internal/lock"
	obsmetrics "github.com/mogcia-app/signal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobRecoverRebuilds = "kpi_recover_rebuilds"
	jobRebuildRequests = "kpi_rebuild_requests"
	jobReconcile       = "kpi_reconcile"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	KPI        *config.KPIConfigHolder
	Reconciler *reconcile.Reconciler
	Locker     *lock.Locker `optional:"true"`
	Config     Config       `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	kpi        *config.KPIConfigHolder
	reconciler *reconcile.Reconciler
	locker     JobLocker
	metrics    *obsmetrics.SchedulerMetrics

	mu            sync.Mutex
	lastReconcile time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.KPI == nil || p.Reconciler == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		kpi:        p.KPI,
		reconciler: p.Reconciler,
		metrics:    obsmetrics.Scheduler(),
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := s.withJobLock(ctx, name, timeout, func(ctx context.Context) error {
		if owner {
			s.logJobStart(ctx, run)
		}
		err := fn(ctx)
		if owner {
			if err != nil && run.errorCount == 0 {
				run.IncError()
			}
			s.logJobFinish(ctx, run)
		}
		return err
	})
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err == nil {
		return nil
	}
	if errors.Is(err, obsmetrics.ErrLockHeld) {
		s.metrics.IncJobError(name, err)
		log.Debug("job skipped, lock held elsewhere")
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobRecoverRebuilds, s.isJobEnabled(jobRecoverRebuilds), func(ctx context.Context) error {
			return s.runJob(ctx, jobRecoverRebuilds, 0, 30*time.Second, s.RecoverStuckRebuildsJob)
		}},
		{jobRebuildRequests, s.isJobEnabled(jobRebuildRequests), func(ctx context.Context) error {
			return s.runJob(ctx, jobRebuildRequests, s.cfg.BatchSize, s.cfg.RebuildTimeout, s.RebuildRequestsJob)
		}},
		{jobReconcile, s.isJobEnabled(jobReconcile) && s.reconcileDue(), func(ctx context.Context) error {
			return s.runJob(ctx, jobReconcile, s.kpi.Get().BackfillBatchSize, s.cfg.ReconcileTimeout, s.ReconcileJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs in this process
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// reconcileDue reports whether the periodic full reconcile should run now.
// A zero interval disables it.
func (s *Scheduler) reconcileDue() bool {
	interval := s.kpi.Get().ReconcileInterval
	if interval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if !s.lastReconcile.IsZero() && now.Sub(s.lastReconcile) < interval {
		return false
	}
	s.lastReconcile = now
	return true
}

func (s *Scheduler) RebuildRequestsJob(ctx context.Context) error {
	return s.reconciler.ProcessRebuildRequests(ctx, s.cfg.BatchSize)
}

// ReconcileJob rebuilds every summary from the raw events.
func (s *Scheduler) ReconcileJob(ctx context.Context) error {
	result, err := s.reconciler.Run(ctx, domain.ReconcileOptions{
		BatchSize: s.kpi.Get().BackfillBatchSize,
	})
	if run := jobRunFromContext(ctx); run != nil {
		run.AddProcessed(int(result.Processed))
	}
	s.metrics.AddBatchProcessed(jobReconcile, "analytics_events", int(result.Processed))
	s.metrics.AddBatchProcessed(jobReconcile, "kpi_monthly_summaries", result.WritesCommitted)
	if err != nil {
		return err
	}
	s.logger(ctx).Info("kpi reconcile finished",
		zap.String("reconcile_run_id", result.RunID),
		zap.Int64("processed", result.Processed),
		zap.Int64("skipped", result.Skipped),
		zap.Int("groups", result.Groups),
		zap.Int("zeroed", result.Zeroed),
		zap.Int("writes_committed", result.WritesCommitted),
	)
	return nil
}

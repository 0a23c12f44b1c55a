package scheduler

import (
	"context"

	"github.com/mogcia-app/signal/internal/kpi/domain"
	"go.uber.org/zap"
)

// RecoverStuckRebuildsJob returns rebuilds left in processing by a crashed
// replica to the queue.
func (s *Scheduler) RecoverStuckRebuildsJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.RecoveryThreshold)
	res := s.db.WithContext(ctx).
		Model(&domain.RebuildRequest{}).
		Where("status = ? AND started_at IS NOT NULL AND started_at <= ?", domain.RebuildStatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     domain.RebuildStatusPending,
			"started_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		if run := jobRunFromContext(ctx); run != nil {
			run.AddProcessed(int(res.RowsAffected))
		}
		s.metrics.AddBatchProcessed(jobRecoverRebuilds, "kpi_rebuild_requests", int(res.RowsAffected))
		s.logger(ctx).Warn("requeued stuck kpi rebuilds",
			zap.Int64("count", res.RowsAffected),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}

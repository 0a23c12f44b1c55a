package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	billingcycle "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"go.uber.org/zap"
)

const rebuildTimeout = 30 * time.Minute

var ErrMissingIDGenerator = errors.New("missing_id_generator")

// EnqueueRebuild stores an on-demand reconcile for the scheduler.
func (r *Reconciler) EnqueueRebuild(ctx context.Context, req domain.EnqueueRebuildRequest) (domain.RebuildRequest, error) {
	if r.genID == nil {
		return domain.RebuildRequest{}, ErrMissingIDGenerator
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return domain.RebuildRequest{}, domain.ErrOwnerRequired
	}
	period := strings.TrimSpace(req.PeriodKey)
	if period != "" {
		if _, _, err := billingcycle.ParsePeriodKey(period); err != nil {
			return domain.RebuildRequest{}, err
		}
	}

	row := domain.RebuildRequest{
		ID:        r.genID.Generate(),
		OwnerID:   ownerID,
		PeriodKey: period,
		DryRun:    req.DryRun,
		Status:    domain.RebuildStatusPending,
		CreatedAt: r.clock.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return domain.RebuildRequest{}, domain.Transient("enqueue rebuild", err)
	}
	return row, nil
}

// GetRebuild returns domain.ErrRebuildNotFound when id is unknown or
// belongs to another owner.
func (r *Reconciler) GetRebuild(ctx context.Context, ownerID string, id snowflake.ID) (domain.RebuildRequest, error) {
	var row domain.RebuildRequest
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Limit(1).Find(&row)
	if res.Error != nil {
		return domain.RebuildRequest{}, domain.Transient("load rebuild", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.RebuildRequest{}, domain.ErrRebuildNotFound
	}
	return row, nil
}

// ProcessRebuildRequests runs up to limit pending requests, oldest first.
func (r *Reconciler) ProcessRebuildRequests(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 10
	}

	var rows []domain.RebuildRequest
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.RebuildStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return err
	}

	var jobErr error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processRebuildRequest(ctx, row); err != nil {
			jobErr = errors.Join(jobErr, err)
			r.log.Warn("failed to process kpi rebuild", zap.Error(err), zap.String("request_id", row.ID.String()))
		}
	}
	return jobErr
}

func (r *Reconciler) processRebuildRequest(ctx context.Context, row domain.RebuildRequest) error {
	rebuildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rebuildTimeout)
	defer cancel()

	now := r.clock.Now()
	claimed := r.db.WithContext(rebuildCtx).
		Model(&domain.RebuildRequest{}).
		Where("id = ? AND status = ?", row.ID, domain.RebuildStatusPending).
		Updates(map[string]any{"status": domain.RebuildStatusProcessing, "started_at": now})
	if claimed.Error != nil {
		return claimed.Error
	}
	if claimed.RowsAffected == 0 {
		return nil
	}

	result, err := r.Run(rebuildCtx, domain.ReconcileOptions{
		DryRun:    row.DryRun,
		PeriodKey: row.PeriodKey,
		OwnerID:   row.OwnerID,
	})
	completedAt := r.clock.Now()
	updates := map[string]any{
		"run_id":           result.RunID,
		"processed":        result.Processed,
		"skipped":          result.Skipped,
		"writes_committed": int64(result.WritesCommitted),
		"completed_at":     completedAt,
		"status":           domain.RebuildStatusCompleted,
	}
	var batchErr *domain.BatchCommitError
	if errors.As(err, &batchErr) {
		updates["writes_committed"] = int64(batchErr.Committed)
	}
	if err != nil {
		updates["status"] = domain.RebuildStatusFailed
		updates["error"] = errorSummary(err)
	}
	return r.db.WithContext(rebuildCtx).
		Model(&domain.RebuildRequest{}).
		Where("id = ?", row.ID).
		Updates(updates).Error
}

const maxErrorSummaryBytes = 256

func errorSummary(err error) string {
	if err == nil {
		return ""
	}
	value := strings.TrimSpace(err.Error())
	if value == "" {
		return "unknown_error"
	}
	if len(value) > maxErrorSummaryBytes {
		cut := maxErrorSummaryBytes
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		return value[:cut]
	}
	return value
}

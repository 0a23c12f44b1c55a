package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingcycle "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/kpi/contribution"
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/kpi/summary"
	"github.com/mogcia-app/signal/internal/observability/metrics"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  *config.KPIConfigHolder
	Events  domain.EventReader
	Metrics *metrics.Metrics `optional:"true"`
}

type Reconciler struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       *config.KPIConfigHolder
	events    domain.EventReader
	summaries *summary.Repository
	metrics   *metrics.Metrics
}

func New(p Params) *Reconciler {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		db:        p.DB,
		log:       p.Log.Named("kpi.reconcile"),
		genID:     p.GenID,
		clock:     clk,
		cfg:       p.Config,
		events:    p.Events,
		summaries: summary.NewRepository(p.DB, p.GenID, clk),
		metrics:   p.Metrics,
	}
}

// Run rebuilds every summary in scope from the raw events. Batches commit
// one after another; a failure after the first commit returns a
// *domain.BatchCommitError carrying the number of summaries written.
func (r *Reconciler) Run(ctx context.Context, opts domain.ReconcileOptions) (domain.ReconcileResult, error) {
	filter := domain.ScanFilter{
		PeriodKey: strings.TrimSpace(opts.PeriodKey),
		OwnerID:   strings.TrimSpace(opts.OwnerID),
	}
	if filter.PeriodKey != "" {
		if _, _, err := billingcycle.ParsePeriodKey(filter.PeriodKey); err != nil {
			return domain.ReconcileResult{}, err
		}
	}

	cfg := r.cfg.Get()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.BackfillBatchSize
	}
	if batchSize <= 0 || batchSize > config.MaxBackfillBatchSize {
		batchSize = config.MaxBackfillBatchSize
	}

	result := domain.ReconcileResult{RunID: ulid.Make().String(), DryRun: opts.DryRun}
	log := r.log.With(
		zap.String("run_id", result.RunID),
		zap.Bool("dry_run", opts.DryRun),
		zap.String("period_key", filter.PeriodKey),
		zap.String("owner_id", filter.OwnerID),
	)
	started := r.clock.Now()

	total, err := r.events.Count(ctx, filter)
	if err != nil {
		return result, domain.Transient("count events", err)
	}
	log.Info("reconcile started", zap.Int64("total", total), zap.Int("batch_size", batchSize))

	acc := NewAccumulator(contribution.NewExtractor(cfg.SupportedSNSKind), filter)
	err = r.events.Scan(ctx, filter, cfg.ScanPageSize, func(batch []domain.RawEvent) error {
		for _, ev := range batch {
			acc.Add(ev)
		}
		log.Info("reconcile progress",
			zap.String("progress", progress(acc.Processed, total)),
			zap.Int64("skipped", acc.Skipped),
		)
		return nil
	})
	if err != nil {
		return result, domain.Transient("scan events", err)
	}

	rows := acc.Summaries()
	result.Processed = acc.Processed
	result.Skipped = acc.Skipped
	result.Filtered = acc.Filtered
	result.Groups = len(rows)

	stale, err := r.staleKeys(ctx, filter, acc)
	if err != nil {
		return result, err
	}
	for _, key := range stale {
		rows = append(rows, contribution.NewPatch(key, "").Summary())
	}
	result.Zeroed = len(stale)

	if opts.DryRun {
		r.metrics.RecordBackfill(ctx, int64(len(rows)), result.Skipped, true)
		log.Info("reconcile dry run finished",
			zap.Int64("processed", result.Processed),
			zap.Int64("skipped", result.Skipped),
			zap.Int64("filtered", result.Filtered),
			zap.Int("groups", result.Groups),
			zap.Int("zeroed", result.Zeroed),
		)
		return result, nil
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := ctx.Err(); err != nil {
			return result, &domain.BatchCommitError{Committed: result.WritesCommitted, Err: err}
		}
		chunk := rows[start:end]
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.summaries.WithTx(tx).UpsertBatch(ctx, chunk)
		})
		if err != nil {
			r.metrics.RecordBackfill(ctx, int64(result.WritesCommitted), result.Skipped, false)
			log.Error("reconcile batch failed",
				zap.Int("committed", result.WritesCommitted),
				zap.Error(err),
			)
			return result, &domain.BatchCommitError{Committed: result.WritesCommitted, Err: err}
		}
		result.WritesCommitted += len(chunk)
		log.Info("reconcile batch committed",
			zap.String("progress", progress(int64(result.WritesCommitted), int64(len(rows)))),
		)
	}

	r.metrics.RecordBackfill(ctx, int64(result.WritesCommitted), result.Skipped, false)
	log.Info("reconcile finished",
		zap.Int64("processed", result.Processed),
		zap.Int64("skipped", result.Skipped),
		zap.Int("groups", result.Groups),
		zap.Int("zeroed", result.Zeroed),
		zap.Int("writes_committed", result.WritesCommitted),
		zap.Duration("duration", r.clock.Now().Sub(started)),
	)
	return result, nil
}

// staleKeys lists stored summaries in scope that no event contributes to.
func (r *Reconciler) staleKeys(ctx context.Context, filter domain.ScanFilter, acc *Accumulator) ([]domain.SummaryKey, error) {
	keys, err := r.summaries.ListKeys(ctx, filter)
	if err != nil {
		return nil, err
	}
	var stale []domain.SummaryKey
	for _, key := range keys {
		if !acc.Has(key) {
			stale = append(stale, key)
		}
	}
	return stale, nil
}

func progress(done, total int64) string {
	return fmt.Sprintf("%d/%d", done, total)
}

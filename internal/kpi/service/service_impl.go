package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/kpi/breakdown"
	"github.com/mogcia-app/signal/internal/kpi/contribution"
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/kpi/reconcile"
	"github.com/mogcia-app/signal/internal/kpi/summary"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxListSummaries = 120

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       *config.KPIConfigHolder
	Events       domain.EventReader
	BillingCycle billingcycledomain.Service
	Reconciler   *reconcile.Reconciler
}

type Service struct {
	log          *zap.Logger
	cfg          *config.KPIConfigHolder
	events       domain.EventReader
	summaries    *summary.Repository
	billingcycle billingcycledomain.Service
	reconciler   *reconcile.Reconciler
}

func NewService(p ServiceParam) domain.Service {
	return New(p)
}

func New(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:          p.Log.Named("kpi.service"),
		cfg:          p.Config,
		events:       p.Events,
		summaries:    summary.NewRepository(p.DB, p.GenID, clk),
		billingcycle: p.BillingCycle,
		reconciler:   p.Reconciler,
	}
}

func (s *Service) GetSummary(ctx context.Context, ownerID, periodKey string) (domain.DisplaySummary, error) {
	key, err := summaryKey(ownerID, periodKey)
	if err != nil {
		return domain.DisplaySummary{}, err
	}
	return s.display(ctx, key)
}

func (s *Service) display(ctx context.Context, key domain.SummaryKey) (domain.DisplaySummary, error) {
	row, err := s.summaries.Get(ctx, key)
	if err != nil {
		return domain.DisplaySummary{}, err
	}
	if row == nil {
		return domain.EmptyDisplay(key), nil
	}
	return row.Display(), nil
}

func (s *Service) ListSummaries(ctx context.Context, ownerID string, limit int) ([]domain.DisplaySummary, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.ErrOwnerRequired
	}
	if limit > maxListSummaries {
		limit = maxListSummaries
	}
	rows, err := s.summaries.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DisplaySummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Display())
	}
	return out, nil
}

// GetCurrent reads the summaries named by the owner's current and previous
// billing windows.
func (s *Service) GetCurrent(ctx context.Context, ownerID string) (domain.CurrentReport, error) {
	windows, err := s.billingcycle.CurrentWindows(ctx, ownerID)
	if err != nil {
		return domain.CurrentReport{}, err
	}
	owner := windows.Profile.OwnerID
	current, err := s.display(ctx, domain.SummaryKey{OwnerID: owner, PeriodKey: windows.CurrentKey})
	if err != nil {
		return domain.CurrentReport{}, err
	}
	previous, err := s.display(ctx, domain.SummaryKey{OwnerID: owner, PeriodKey: windows.PreviousKey})
	if err != nil {
		return domain.CurrentReport{}, err
	}
	return domain.CurrentReport{
		OwnerID:             owner,
		Timezone:            windows.Profile.Timezone,
		AnchorDay:           windows.Profile.AnchorDay,
		CurrentKey:          windows.CurrentKey,
		CurrentStart:        windows.CurrentStart,
		CurrentEndExclusive: windows.CurrentEndExclusive,
		PreviousKey:         windows.PreviousKey,
		PreviousStart:       windows.PreviousStart,
		Current:             current,
		Previous:            previous,
	}, nil
}

// GetBreakdowns compares a month with the one before it. Totals come from
// the stored summaries; segments and top posts from the month's raw events.
func (s *Service) GetBreakdowns(ctx context.Context, ownerID, periodKey string) (domain.BreakdownReport, error) {
	key, err := summaryKey(ownerID, periodKey)
	if err != nil {
		return domain.BreakdownReport{}, err
	}
	window, err := billingcycledomain.WindowForKey(key.PeriodKey, nil, billingcycledomain.MinAnchorDay)
	if err != nil {
		return domain.BreakdownReport{}, err
	}

	current, err := s.totals(ctx, key)
	if err != nil {
		return domain.BreakdownReport{}, err
	}
	previous, err := s.totals(ctx, domain.SummaryKey{OwnerID: key.OwnerID, PeriodKey: window.PreviousKey})
	if err != nil {
		return domain.BreakdownReport{}, err
	}

	events, err := s.events.ListPublishedBetween(ctx, key.OwnerID, window.Start, window.EndExclusive)
	if err != nil {
		return domain.BreakdownReport{}, err
	}
	ex := contribution.NewExtractor(s.cfg.Get().SupportedSNSKind)
	entities := make([]domain.EntityDelta, 0, len(events))
	for _, ev := range events {
		c, ok := ex.Extract(ev)
		if !ok || c.Key() != key {
			continue
		}
		entities = append(entities, domain.EntityDelta{
			EntityID: c.RecordID,
			Segment:  c.ContentType,
			Delta:    c.Delta,
		})
	}

	return domain.BreakdownReport{
		OwnerID:           key.OwnerID,
		PeriodKey:         key.PeriodKey,
		PreviousPeriodKey: window.PreviousKey,
		Breakdowns:        breakdown.Build(current, previous, entities),
	}, nil
}

func (s *Service) totals(ctx context.Context, key domain.SummaryKey) (domain.DeltaVector, error) {
	row, err := s.summaries.Get(ctx, key)
	if err != nil || row == nil {
		return domain.DeltaVector{}, err
	}
	return row.Totals().Floor(), nil
}

func (s *Service) EnqueueRebuild(ctx context.Context, req domain.EnqueueRebuildRequest) (domain.RebuildRequest, error) {
	row, err := s.reconciler.EnqueueRebuild(ctx, req)
	if err != nil {
		return domain.RebuildRequest{}, err
	}
	s.log.Info("kpi rebuild enqueued",
		zap.String("rebuild_id", row.ID.String()),
		zap.String("owner_id", row.OwnerID),
		zap.String("period_key", row.PeriodKey),
		zap.Bool("dry_run", row.DryRun),
	)
	return row, nil
}

func (s *Service) GetRebuild(ctx context.Context, ownerID, id string) (domain.RebuildRequest, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.RebuildRequest{}, domain.ErrOwnerRequired
	}
	rebuildID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.RebuildRequest{}, domain.ErrRebuildNotFound
	}
	return s.reconciler.GetRebuild(ctx, ownerID, rebuildID)
}

func summaryKey(ownerID, periodKey string) (domain.SummaryKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.SummaryKey{}, domain.ErrOwnerRequired
	}
	periodKey = strings.TrimSpace(periodKey)
	if _, _, err := billingcycledomain.ParsePeriodKey(periodKey); err != nil {
		return domain.SummaryKey{}, err
	}
	return domain.SummaryKey{OwnerID: ownerID, PeriodKey: periodKey}, nil
}

package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ScanFilter narrows a raw event scan. Empty fields match everything.
type ScanFilter struct {
	PeriodKey string
	OwnerID   string
}

// EventReader is the raw event store as the engine sees it.
type EventReader interface {
	WithTx(tx *gorm.DB) EventReader
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, recordID string) (*RawEvent, error)
	// ListPublishedBetween returns ownerID's events with start <= publishedAt < end.
	ListPublishedBetween(ctx context.Context, ownerID string, start, end time.Time) ([]RawEvent, error)
	Count(ctx context.Context, filter ScanFilter) (int64, error)
	// Scan pages through every matching event in a stable order.
	Scan(ctx context.Context, filter ScanFilter, pageSize int, fn func(batch []RawEvent) error) error
}

// LiveUpdater folds one raw event transition into the persisted summaries.
type LiveUpdater interface {
	Apply(ctx context.Context, t Transition) error
	ApplyTx(ctx context.Context, tx *gorm.DB, t Transition) error
	Guard(ctx context.Context, t Transition, fn func(ctx context.Context) error) error
}

type ReconcileOptions struct {
	DryRun    bool
	PeriodKey string
	OwnerID   string
	BatchSize int
}

type ReconcileResult struct {
	RunID           string `json:"runId"`
	DryRun          bool   `json:"dryRun"`
	Processed       int64  `json:"processed"`
	Skipped         int64  `json:"skipped"`
	Filtered        int64  `json:"filtered"`
	Groups          int    `json:"groups"`
	Zeroed          int    `json:"zeroed"`
	WritesCommitted int    `json:"writesCommitted"`
}

type Reconciler interface {
	Run(ctx context.Context, opts ReconcileOptions) (ReconcileResult, error)
}

// CurrentReport pairs an owner's billing windows with their summaries.
type CurrentReport struct {
	OwnerID             string         `json:"ownerId"`
	Timezone            string         `json:"timezone"`
	AnchorDay           int            `json:"anchorDay"`
	CurrentKey          string         `json:"currentKey"`
	CurrentStart        time.Time      `json:"currentStart"`
	CurrentEndExclusive time.Time      `json:"currentEndExclusive"`
	PreviousKey         string         `json:"previousKey"`
	PreviousStart       time.Time      `json:"previousStart"`
	Current             DisplaySummary `json:"current"`
	Previous            DisplaySummary `json:"previous"`
}

type EnqueueRebuildRequest struct {
	OwnerID   string `json:"-"`
	PeriodKey string `json:"periodKey"`
	DryRun    bool   `json:"dryRun"`
}

// Service is the read side of the engine plus on-demand rebuilds.
type Service interface {
	GetSummary(ctx context.Context, ownerID, periodKey string) (DisplaySummary, error)
	ListSummaries(ctx context.Context, ownerID string, limit int) ([]DisplaySummary, error)
	GetCurrent(ctx context.Context, ownerID string) (CurrentReport, error)
	GetBreakdowns(ctx context.Context, ownerID, periodKey string) (BreakdownReport, error)
	EnqueueRebuild(ctx context.Context, req EnqueueRebuildRequest) (RebuildRequest, error)
	GetRebuild(ctx context.Context, ownerID, id string) (RebuildRequest, error)
}

// Package summary persists monthly KPI summaries.
package summary

import (
	"context"
	"errors"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var keyColumns = []clause.Column{{Name: "owner_id"}, {Name: "period_key"}}

type Repository struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewRepository(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.New()
	}
	return &Repository{db: db, genID: genID, clock: clk}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, genID: r.genID, clock: r.clock}
}

// Get returns nil, nil when the summary does not exist.
func (r *Repository) Get(ctx context.Context, key domain.SummaryKey) (*domain.Summary, error) {
	var row domain.Summary
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND period_key = ?", key.OwnerID, key.PeriodKey).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.Transient("load summary", err)
	}
	return &row, nil
}

// ListByOwner returns the owner's most recent summaries, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		limit = 12
	}
	var rows []domain.Summary
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("period_key DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domain.Transient("list summaries", err)
	}
	return rows, nil
}

// Lock ensures the summary row exists and locks it for the rest of the
// transaction. The repository must be bound to a transaction.
func (r *Repository) Lock(ctx context.Context, key domain.SummaryKey) (*domain.Summary, error) {
	now := r.clock.Now()
	seed := domain.Summary{
		ID:             r.genID.Generate(),
		OwnerID:        key.OwnerID,
		PeriodKey:      key.PeriodKey,
		DailyBreakdown: datatypes.JSONSlice[domain.DailyEntry]{},
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: keyColumns, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, domain.Transient("ensure summary", err)
	}

	var row domain.Summary
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND period_key = ?", key.OwnerID, key.PeriodKey).
		Take(&row).Error; err != nil {
		return nil, domain.Transient("lock summary", err)
	}
	return &row, nil
}

// SaveEngineColumns writes only the engine owned columns of s.
func (r *Repository) SaveEngineColumns(ctx context.Context, s *domain.Summary) error {
	if s.DailyBreakdown == nil {
		s.DailyBreakdown = datatypes.JSONSlice[domain.DailyEntry]{}
	}
	s.UpdatedAt = r.clock.Now()
	err := r.db.WithContext(ctx).
		Model(&domain.Summary{}).
		Where("id = ?", s.ID).
		Select(domain.EngineColumns).
		Updates(s).Error
	if err != nil {
		return domain.Transient("save summary", err)
	}
	return nil
}

// UpsertBatch writes rows in one statement, overwriting only engine columns
// of rows that already exist.
func (r *Repository) UpsertBatch(ctx context.Context, rows []domain.Summary) error {
	if len(rows) == 0 {
		return nil
	}
	now := r.clock.Now()
	for i := range rows {
		if rows[i].ID == 0 {
			rows[i].ID = r.genID.Generate()
		}
		if rows[i].DailyBreakdown == nil {
			rows[i].DailyBreakdown = datatypes.JSONSlice[domain.DailyEntry]{}
		}
		if rows[i].Metadata == nil {
			rows[i].Metadata = datatypes.JSONMap{}
		}
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
		rows[i].UpdatedAt = now
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   keyColumns,
			DoUpdates: clause.AssignmentColumns(domain.EngineColumns),
		}).
		Create(&rows).Error
	if err != nil {
		return domain.Transient("upsert summaries", err)
	}
	return nil
}

// ListKeys returns the keys of every stored summary in scope, sorted.
func (r *Repository) ListKeys(ctx context.Context, filter domain.ScanFilter) ([]domain.SummaryKey, error) {
	type keyRow struct {
		OwnerID   string
		PeriodKey string
	}
	stmt := r.db.WithContext(ctx).Model(&domain.Summary{}).Select("owner_id", "period_key")
	if filter.OwnerID != "" {
		stmt = stmt.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.PeriodKey != "" {
		stmt = stmt.Where("period_key = ?", filter.PeriodKey)
	}
	var rows []keyRow
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, domain.Transient("list summary keys", err)
	}
	keys := make([]domain.SummaryKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, domain.SummaryKey{OwnerID: row.OwnerID, PeriodKey: row.PeriodKey})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

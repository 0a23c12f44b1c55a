package repository

import (
	"context"
	"errors"
	"time"

	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	billingcycle "github.com/mogcia-app/signal/internal/billingcycle/domain"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/pkg/db/option"
	"github.com/mogcia-app/signal/pkg/repository"
	"gorm.io/gorm"
)

// Store is the analytics_events table. It doubles as the engine's event
// reader.
type Store struct {
	db     *gorm.DB
	events repository.Repository[analyticsdomain.Event]
}

func Provide(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		events: repository.ProvideStore[analyticsdomain.Event](db, "record_id"),
	}
}

// ProvideReader exposes the store as the engine's event reader.
func ProvideReader(s *Store) kpidomain.EventReader {
	return s
}

func (s *Store) WithTx(tx *gorm.DB) kpidomain.EventReader {
	return s.Tx(tx)
}

func (s *Store) Tx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{db: tx, events: s.events.WithTrx(tx)}
}

// Find returns nil, nil when the record does not exist.
func (s *Store) Find(ctx context.Context, recordID string, forUpdate bool) (*analyticsdomain.Event, error) {
	var opts []option.QueryOption
	if forUpdate {
		opts = append(opts, option.ForUpdate())
	}
	return s.events.FindByKey(ctx, recordID, opts...)
}

func (s *Store) Create(ctx context.Context, ev *analyticsdomain.Event) error {
	return s.events.Create(ctx, ev)
}

func (s *Store) Save(ctx context.Context, ev *analyticsdomain.Event) error {
	return s.events.Save(ctx, ev)
}

func (s *Store) Delete(ctx context.Context, recordID string) error {
	return s.events.Delete(ctx, recordID)
}

// ListPage returns the owner's events ordered by record id, starting after
// the given id.
func (s *Store) ListPage(ctx context.Context, ownerID, after string, start, end *time.Time, limit int) ([]analyticsdomain.Event, error) {
	stmt := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if after != "" {
		stmt = stmt.Where("record_id > ?", after)
	}
	if start != nil && end != nil {
		stmt = stmt.Where("published_at >= ? AND published_at < ?", *start, *end)
	}
	var rows []analyticsdomain.Event
	err := stmt.Order("record_id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *Store) Get(ctx context.Context, recordID string) (*kpidomain.RawEvent, error) {
	row, err := s.Find(ctx, recordID, false)
	if err != nil || row == nil {
		return nil, err
	}
	raw, err := row.ToRaw()
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

func (s *Store) ListPublishedBetween(ctx context.Context, ownerID string, start, end time.Time) ([]kpidomain.RawEvent, error) {
	var rows []analyticsdomain.Event
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND published_at >= ? AND published_at < ?", ownerID, start.UTC(), end.UTC()).
		Order("record_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toRaw(rows)
}

func (s *Store) scope(filter kpidomain.ScanFilter) (*gorm.DB, error) {
	stmt := s.db.Model(&analyticsdomain.Event{})
	if filter.OwnerID != "" {
		stmt = stmt.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.PeriodKey != "" {
		start, end, err := billingcycle.UTCMonth(filter.PeriodKey)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("published_at >= ? AND published_at < ?", start, end)
	}
	return stmt, nil
}

func (s *Store) Count(ctx context.Context, filter kpidomain.ScanFilter) (int64, error) {
	stmt, err := s.scope(filter)
	if err != nil {
		return 0, err
	}
	var count int64
	err = stmt.WithContext(ctx).Count(&count).Error
	return count, err
}

// Scan walks matching events with keyset pagination on record_id.
func (s *Store) Scan(ctx context.Context, filter kpidomain.ScanFilter, pageSize int, fn func([]kpidomain.RawEvent) error) error {
	if pageSize <= 0 {
		pageSize = 1000
	}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stmt, err := s.scope(filter)
		if err != nil {
			return err
		}
		if cursor != "" {
			stmt = stmt.Where("record_id > ?", cursor)
		}
		var rows []analyticsdomain.Event
		if err := stmt.WithContext(ctx).Order("record_id ASC").Limit(pageSize).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		batch, err := toRaw(rows)
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(rows) < pageSize {
			return nil
		}
		cursor = rows[len(rows)-1].RecordID
	}
}

func toRaw(rows []analyticsdomain.Event) ([]kpidomain.RawEvent, error) {
	out := make([]kpidomain.RawEvent, 0, len(rows))
	for _, row := range rows {
		raw, err := row.ToRaw()
		if err != nil {
			return nil, errors.Join(errors.New("decode event "+row.RecordID), err)
		}
		out = append(out, raw)
	}
	return out, nil
}

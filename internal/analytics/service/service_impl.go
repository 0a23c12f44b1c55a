package service

import (
	"context"
	"errors"
	"strings"

	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	"github.com/mogcia-app/signal/internal/analytics/repository"
	billingcycle "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/clock"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/observability/logger"
	"github.com/mogcia-app/signal/internal/retry"
	"github.com/mogcia-app/signal/pkg/db/pagination"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Store   *repository.Store
	Updater kpidomain.LiveUpdater
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	store   *repository.Store
	updater kpidomain.LiveUpdater
	retry   retry.Config
}

func NewService(p ServiceParam) analyticsdomain.Service {
	return New(p)
}

func New(p ServiceParam) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("analytics.service"),
		clock:   clk,
		store:   p.Store,
		updater: p.Updater,
		retry:   retry.DefaultConfig(),
	}
}

// WithRetry overrides the retry policy used for every mutation.
func (s *Service) WithRetry(cfg retry.Config) *Service {
	clone := *s
	clone.retry = cfg
	return &clone
}

func (s *Service) Put(ctx context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error) {
	return s.write(ctx, raw, false)
}

func (s *Service) Update(ctx context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error) {
	if strings.TrimSpace(raw.RecordID) == "" {
		return analyticsdomain.Event{}, analyticsdomain.ErrInvalidRecordID
	}
	return s.write(ctx, raw, true)
}

func (s *Service) write(ctx context.Context, raw kpidomain.RawEvent, mustExist bool) (analyticsdomain.Event, error) {
	raw.OwnerID = strings.TrimSpace(raw.OwnerID)
	if raw.OwnerID == "" {
		return analyticsdomain.Event{}, kpidomain.ErrOwnerRequired
	}
	raw.RecordID = strings.TrimSpace(raw.RecordID)
	if raw.RecordID == "" {
		raw.RecordID = ulid.Make().String()
	}
	next, err := analyticsdomain.FromRaw(raw)
	if err != nil {
		return analyticsdomain.Event{}, err
	}
	log := logger.WithOwner(logger.WithContext(ctx, s.log), raw.OwnerID).With(zap.String("record_id", raw.RecordID))

	var out analyticsdomain.Event
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		current, err := s.find(ctx, s.store, raw.OwnerID, raw.RecordID, false)
		if err != nil {
			return err
		}
		if current == nil && mustExist {
			return analyticsdomain.ErrEventNotFound
		}
		guard, err := transitionFor(current, next)
		if err != nil {
			return err
		}

		return s.updater.Guard(ctx, guard, func(ctx context.Context) error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				store := s.store.Tx(tx)
				locked, err := s.find(ctx, store, raw.OwnerID, raw.RecordID, true)
				if err != nil {
					return err
				}
				if locked == nil && mustExist {
					return analyticsdomain.ErrEventNotFound
				}

				row := next
				row.UpdatedAt = s.clock.Now()
				if locked == nil {
					row.CreatedAt = row.UpdatedAt
					if err := store.Create(ctx, &row); err != nil {
						// A concurrent insert of the same id turns into an edit on retry.
						return kpidomain.Transient("insert event", err)
					}
				} else {
					row.CreatedAt = locked.CreatedAt
					if err := store.Save(ctx, &row); err != nil {
						return kpidomain.Transient("update event", err)
					}
				}

				t, err := transitionFor(locked, row)
				if err != nil {
					return err
				}
				if err := s.updater.ApplyTx(ctx, tx, t); err != nil {
					return err
				}
				out = row
				return nil
			})
		})
	})
	if err != nil {
		log.Warn("failed to write analytics event", zap.Error(err))
		return analyticsdomain.Event{}, err
	}
	log.Debug("analytics event written")
	return out, nil
}

// transitionFor builds the engine transition from the stored row (if any) to
// the next one. Both sides are read back through the stored representation.
func transitionFor(current *analyticsdomain.Event, next analyticsdomain.Event) (kpidomain.Transition, error) {
	after, err := next.ToRaw()
	if err != nil {
		return kpidomain.Transition{}, err
	}
	if current == nil {
		return kpidomain.Transition{Op: kpidomain.OpCreate, After: &after}, nil
	}
	before, err := current.ToRaw()
	if err != nil {
		return kpidomain.Transition{}, err
	}
	return kpidomain.Transition{Op: kpidomain.OpEdit, Before: &before, After: &after}, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, recordID string, ignoreMissing bool) error {
	ownerID = strings.TrimSpace(ownerID)
	recordID = strings.TrimSpace(recordID)
	if ownerID == "" {
		return kpidomain.ErrOwnerRequired
	}
	if recordID == "" {
		return analyticsdomain.ErrInvalidRecordID
	}
	log := logger.WithOwner(logger.WithContext(ctx, s.log), ownerID).With(zap.String("record_id", recordID))

	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		current, err := s.find(ctx, s.store, ownerID, recordID, false)
		if err != nil {
			return err
		}
		if current == nil {
			if ignoreMissing {
				return nil
			}
			return analyticsdomain.ErrEventNotFound
		}
		before, err := current.ToRaw()
		if err != nil {
			return err
		}
		guard := kpidomain.Transition{Op: kpidomain.OpDelete, Before: &before}

		return s.updater.Guard(ctx, guard, func(ctx context.Context) error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				store := s.store.Tx(tx)
				locked, err := s.find(ctx, store, ownerID, recordID, true)
				if err != nil {
					return err
				}
				if locked == nil {
					if ignoreMissing {
						return nil
					}
					return analyticsdomain.ErrEventNotFound
				}
				if err := store.Delete(ctx, recordID); err != nil {
					return kpidomain.Transient("delete event", err)
				}
				before, err := locked.ToRaw()
				if err != nil {
					return err
				}
				return s.updater.ApplyTx(ctx, tx, kpidomain.Transition{Op: kpidomain.OpDelete, Before: &before})
			})
		})
	})
	if err != nil {
		log.Warn("failed to delete analytics event", zap.Error(err))
		return err
	}
	log.Debug("analytics event deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, ownerID, recordID string) (analyticsdomain.Event, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return analyticsdomain.Event{}, kpidomain.ErrOwnerRequired
	}
	row, err := s.find(ctx, s.store, ownerID, strings.TrimSpace(recordID), false)
	if errors.Is(err, analyticsdomain.ErrOwnerMismatch) || (err == nil && row == nil) {
		return analyticsdomain.Event{}, analyticsdomain.ErrEventNotFound
	}
	if err != nil {
		return analyticsdomain.Event{}, err
	}
	return *row, nil
}

func (s *Service) List(ctx context.Context, req analyticsdomain.ListRequest) (analyticsdomain.ListResponse, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return analyticsdomain.ListResponse{}, kpidomain.ErrOwnerRequired
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return analyticsdomain.ListResponse{}, analyticsdomain.ErrInvalidPageToken
	}
	limit := pagination.Pagination{PageSize: req.PageSize}.Limit()

	var rows []analyticsdomain.Event
	if period := strings.TrimSpace(req.PeriodKey); period != "" {
		start, end, err := billingcycle.UTCMonth(period)
		if err != nil {
			return analyticsdomain.ListResponse{}, err
		}
		rows, err = s.store.ListPage(ctx, ownerID, cursor.ID, &start, &end, limit+1)
		if err != nil {
			return analyticsdomain.ListResponse{}, kpidomain.Transient("list events", err)
		}
	} else {
		rows, err = s.store.ListPage(ctx, ownerID, cursor.ID, nil, nil, limit+1)
		if err != nil {
			return analyticsdomain.ListResponse{}, kpidomain.Transient("list events", err)
		}
	}

	page, info, err := pagination.BuildCursorPageInfo(rows, limit, func(e analyticsdomain.Event) string { return e.RecordID })
	if err != nil {
		return analyticsdomain.ListResponse{}, err
	}
	return analyticsdomain.ListResponse{Events: page, NextPageToken: info.NextPageToken}, nil
}

// find loads a record and checks it belongs to ownerID.
func (s *Service) find(ctx context.Context, store *repository.Store, ownerID, recordID string, forUpdate bool) (*analyticsdomain.Event, error) {
	row, err := store.Find(ctx, recordID, forUpdate)
	if err != nil {
		return nil, kpidomain.Transient("load event", err)
	}
	if row != nil && row.OwnerID != ownerID {
		return nil, analyticsdomain.ErrOwnerMismatch
	}
	return row, nil
}

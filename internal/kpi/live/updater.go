// Package live applies single raw event transitions to monthly summaries.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycle "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/kpi/contribution"
	"github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/kpi/summary"
	"github.com/mogcia-app/signal/internal/lock"
	"github.com/mogcia-app/signal/internal/observability/logger"
	"github.com/mogcia-app/signal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Locker serializes updates to the same summary across processes.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, name, token string) error
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  *config.KPIConfigHolder
	Events  domain.EventReader
	Locker  *lock.Locker     `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Updater struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       *config.KPIConfigHolder
	events    domain.EventReader
	summaries *summary.Repository
	locker    Locker
	metrics   *metrics.Metrics
}

func New(p Params) *Updater {
	u := &Updater{
		db:        p.DB,
		log:       p.Log.Named("kpi.live"),
		cfg:       p.Config,
		events:    p.Events,
		summaries: summary.NewRepository(p.DB, p.GenID, p.Clock),
		metrics:   p.Metrics,
	}
	if p.Locker != nil {
		u.locker = p.Locker
	}
	return u
}

// WithLocker replaces the cross-process lock. Passing nil disables it.
func (u *Updater) WithLocker(l Locker) *Updater {
	clone := *u
	clone.locker = l
	return &clone
}

// Apply runs t in its own transaction under the summary locks.
func (u *Updater) Apply(ctx context.Context, t domain.Transition) error {
	return u.Guard(ctx, t, func(ctx context.Context) error {
		return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return u.ApplyTx(ctx, tx, t)
		})
	})
}

type keyChange struct {
	contributions []domain.Contribution
}

// ApplyTx folds t into every affected summary inside tx. Keys are locked in
// ascending order. Events that do not extract contribute nothing.
func (u *Updater) ApplyTx(ctx context.Context, tx *gorm.DB, t domain.Transition) (err error) {
	defer func() {
		u.metrics.RecordLiveUpdate(ctx, string(t.Op), err)
	}()
	if err := t.Validate(); err != nil {
		return err
	}

	extractor := contribution.NewExtractor(u.cfg.Get().SupportedSNSKind)
	before, after := u.extract(ctx, extractor, t.Before), u.extract(ctx, extractor, t.After)

	changes := make(map[domain.SummaryKey]*keyChange)
	add := func(c domain.Contribution) {
		ch, ok := changes[c.Key()]
		if !ok {
			ch = &keyChange{}
			changes[c.Key()] = ch
		}
		ch.contributions = append(ch.contributions, c)
	}
	if before != nil {
		add(contribution.Negate(*before))
	}
	if after != nil {
		add(*after)
	}
	if len(changes) == 0 {
		return nil
	}

	keys := make([]domain.SummaryKey, 0, len(changes))
	for key := range changes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	repo := u.summaries.WithTx(tx)
	events := u.events.WithTx(tx)
	for _, key := range keys {
		row, err := repo.Lock(ctx, key)
		if err != nil {
			return err
		}
		if row.OwnerID != key.OwnerID || row.PeriodKey != key.PeriodKey {
			return domain.Inconsistent("locked summary %s/%s for key %s", row.OwnerID, row.PeriodKey, key)
		}

		patch := contribution.FromSummary(*row)
		for _, c := range changes[key].contributions {
			if err := patch.Merge(c); err != nil {
				return err
			}
		}

		ref, err := u.resolveReference(ctx, events, extractor, key, row.ReferenceRecordID, t, before, after)
		if err != nil {
			return err
		}
		patch.ReferenceRecordID = ref
		patch.ApplyTo(row)
		if err := repo.SaveEngineColumns(ctx, row); err != nil {
			return err
		}

		logger.WithPeriod(logger.WithContext(ctx, u.log), key.OwnerID, key.PeriodKey).Debug(
			"summary updated",
			zap.String("op", string(t.Op)),
			zap.String("reference_record_id", ref),
		)
	}
	return nil
}

func (u *Updater) extract(ctx context.Context, ex contribution.Extractor, ev *domain.RawEvent) *domain.Contribution {
	if ev == nil {
		return nil
	}
	c, ok := ex.Extract(*ev)
	u.metrics.RecordContribution(ctx, ok)
	if !ok {
		return nil
	}
	return &c
}

// resolveReference picks the reference record for key after t is applied.
func (u *Updater) resolveReference(
	ctx context.Context,
	events domain.EventReader,
	ex contribution.Extractor,
	key domain.SummaryKey,
	current string,
	t domain.Transition,
	before, after *domain.Contribution,
) (string, error) {
	switch t.Op {
	case domain.OpCreate:
		if after == nil || after.Key() != key {
			return current, nil
		}
		candidate := domain.Reference{RecordID: after.RecordID, PublishedAt: after.PublishedAt}
		if current == "" || current == after.RecordID {
			return candidate.RecordID, nil
		}
		stored, ok, err := u.referenceOf(ctx, events, ex, key, current)
		if err != nil {
			return "", err
		}
		if !ok {
			return u.rescan(ctx, events, ex, key, t, after)
		}
		if candidate.Newer(stored) {
			return candidate.RecordID, nil
		}
		return current, nil
	case domain.OpEdit:
		return u.rescan(ctx, events, ex, key, t, after)
	case domain.OpDelete:
		if before != nil && before.Key() == key && before.RecordID == current {
			return u.rescan(ctx, events, ex, key, t, nil)
		}
		return current, nil
	default:
		return "", domain.ErrInvalidTransition
	}
}

// referenceOf loads the stored reference event. ok is false when it no longer
// exists or no longer belongs to key.
func (u *Updater) referenceOf(
	ctx context.Context,
	events domain.EventReader,
	ex contribution.Extractor,
	key domain.SummaryKey,
	recordID string,
) (domain.Reference, bool, error) {
	ev, err := events.Get(ctx, recordID)
	if err != nil {
		return domain.Reference{}, false, domain.Transient("load reference event", err)
	}
	if ev == nil {
		return domain.Reference{}, false, nil
	}
	c, ok := ex.Extract(*ev)
	if !ok || c.Key() != key {
		return domain.Reference{}, false, nil
	}
	return domain.Reference{RecordID: c.RecordID, PublishedAt: c.PublishedAt}, true, nil
}

// rescan recomputes the reference for key from the event store. Records
// touched by t are read from t itself rather than the store.
func (u *Updater) rescan(
	ctx context.Context,
	events domain.EventReader,
	ex contribution.Extractor,
	key domain.SummaryKey,
	t domain.Transition,
	after *domain.Contribution,
) (string, error) {
	start, end, err := billingcycle.UTCMonth(key.PeriodKey)
	if err != nil {
		return "", domain.Inconsistent("summary %s has malformed period key: %v", key, err)
	}
	rows, err := events.ListPublishedBetween(ctx, key.OwnerID, start, end)
	if err != nil {
		return "", domain.Transient("rescan reference", err)
	}

	exclude := make(map[string]struct{}, 2)
	if t.Before != nil {
		exclude[t.Before.RecordID] = struct{}{}
	}
	if t.After != nil {
		exclude[t.After.RecordID] = struct{}{}
	}

	var best domain.Reference
	for _, ev := range rows {
		if _, skip := exclude[ev.RecordID]; skip {
			continue
		}
		c, ok := ex.Extract(ev)
		if !ok || c.Key() != key {
			continue
		}
		if r := (domain.Reference{RecordID: c.RecordID, PublishedAt: c.PublishedAt}); r.Newer(best) {
			best = r
		}
	}
	if after != nil && after.Key() == key {
		if r := (domain.Reference{RecordID: after.RecordID, PublishedAt: after.PublishedAt}); r.Newer(best) {
			best = r
		}
	}
	return best.RecordID, nil
}

// Guard runs fn while holding the cross-process lock of every summary t
// touches. Without a locker fn runs directly and row locks alone serialize.
func (u *Updater) Guard(ctx context.Context, t domain.Transition, fn func(ctx context.Context) error) error {
	if u.locker == nil {
		return fn(ctx)
	}
	keys := u.affectedKeys(t)
	ttl := u.cfg.Get().SummaryLockTTL

	type held struct{ name, token string }
	acquired := make([]held, 0, len(keys))
	defer func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := u.locker.Release(context.WithoutCancel(ctx), acquired[i].name, acquired[i].token); err != nil {
				u.log.Warn("failed to release summary lock", zap.String("lock", acquired[i].name), zap.Error(err))
			}
		}
	}()

	for _, key := range keys {
		name := LockName(key)
		token, ok, err := u.locker.TryLock(ctx, name, ttl)
		if err != nil {
			return domain.Transient("acquire summary lock", err)
		}
		if !ok {
			return domain.Transient("acquire summary lock", fmt.Errorf("%w: %s", lock.ErrNotAcquired, name))
		}
		acquired = append(acquired, held{name: name, token: token})
	}
	return fn(ctx)
}

func (u *Updater) affectedKeys(t domain.Transition) []domain.SummaryKey {
	ex := contribution.NewExtractor(u.cfg.Get().SupportedSNSKind)
	seen := make(map[domain.SummaryKey]struct{}, 2)
	var keys []domain.SummaryKey
	for _, ev := range []*domain.RawEvent{t.Before, t.After} {
		if ev == nil {
			continue
		}
		c, ok := ex.Extract(*ev)
		if !ok {
			continue
		}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		keys = append(keys, c.Key())
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// LockName is the advisory lock name for one summary.
func LockName(key domain.SummaryKey) string {
	return "kpi:summary:" + key.OwnerID + ":" + key.PeriodKey
}

// IsLockBusy reports whether err came from a summary lock held elsewhere.
func IsLockBusy(err error) bool {
	return errors.Is(err, lock.ErrNotAcquired)
}

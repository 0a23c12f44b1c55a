// Package reconcile recomputes monthly summaries from the raw event store.
package reconcile

import (
	"sort"
	"strings"

	"github.com/mogcia-app/signal/internal/kpi/contribution"
	"github.com/mogcia-app/signal/internal/kpi/domain"
)

// Accumulator regroups raw events into fresh patches. One accumulator serves
// one reconcile call and is not safe for concurrent use.
type Accumulator struct {
	extractor contribution.Extractor
	filter    domain.ScanFilter
	patches   map[domain.SummaryKey]*contribution.Patch
	refs      map[domain.SummaryKey]domain.Reference

	Processed int64
	Skipped   int64
	Filtered  int64
}

func NewAccumulator(ex contribution.Extractor, filter domain.ScanFilter) *Accumulator {
	filter.OwnerID = strings.TrimSpace(filter.OwnerID)
	filter.PeriodKey = strings.TrimSpace(filter.PeriodKey)
	return &Accumulator{
		extractor: ex,
		filter:    filter,
		patches:   make(map[domain.SummaryKey]*contribution.Patch),
		refs:      make(map[domain.SummaryKey]domain.Reference),
	}
}

// Add folds one raw event in. Events that do not extract are counted as
// skipped; events outside the filter as filtered.
func (a *Accumulator) Add(ev domain.RawEvent) {
	a.Processed++
	c, ok := a.extractor.Extract(ev)
	if !ok {
		a.Skipped++
		return
	}
	if (a.filter.PeriodKey != "" && c.PeriodKey != a.filter.PeriodKey) ||
		(a.filter.OwnerID != "" && c.OwnerID != a.filter.OwnerID) {
		a.Filtered++
		return
	}

	key := c.Key()
	patch, ok := a.patches[key]
	if !ok {
		patch = contribution.NewPatch(key, "")
		a.patches[key] = patch
	}
	// Merge only fails on a foreign key, which cannot happen here.
	_ = patch.Merge(c)

	if ref := (domain.Reference{RecordID: c.RecordID, PublishedAt: c.PublishedAt}); ref.Newer(a.refs[key]) {
		a.refs[key] = ref
	}
}

func (a *Accumulator) Has(key domain.SummaryKey) bool {
	_, ok := a.patches[key]
	return ok
}

func (a *Accumulator) Len() int {
	return len(a.patches)
}

// Summaries emits one summary per group, ordered by key.
func (a *Accumulator) Summaries() []domain.Summary {
	keys := make([]domain.SummaryKey, 0, len(a.patches))
	for key := range a.patches {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := make([]domain.Summary, 0, len(keys))
	for _, key := range keys {
		patch := a.patches[key]
		patch.ReferenceRecordID = a.refs[key].RecordID
		out = append(out, patch.Summary())
	}
	return out
}

// Reconcile is the in-memory form of a reconcile run.
func Reconcile(events []domain.RawEvent, ex contribution.Extractor, filter domain.ScanFilter) ([]domain.Summary, domain.ReconcileResult) {
	acc := NewAccumulator(ex, filter)
	for _, ev := range events {
		acc.Add(ev)
	}
	summaries := acc.Summaries()
	return summaries, domain.ReconcileResult{
		Processed: acc.Processed,
		Skipped:   acc.Skipped,
		Filtered:  acc.Filtered,
		Groups:    len(summaries),
	}
}

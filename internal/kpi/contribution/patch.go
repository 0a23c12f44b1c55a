package contribution

import (
	"sort"

	"github.com/mogcia-app/signal/internal/kpi/domain"
	"gorm.io/datatypes"
)

// Patch accumulates contributions for one summary key. Merge order never
// changes the result.
type Patch struct {
	Key               domain.SummaryKey
	ReferenceRecordID string
	Totals            domain.DeltaVector
	Daily             map[string]domain.DailyVector
}

func NewPatch(key domain.SummaryKey, referenceRecordID string) *Patch {
	return &Patch{
		Key:               key,
		ReferenceRecordID: referenceRecordID,
		Daily:             make(map[string]domain.DailyVector),
	}
}

// FromSummary starts a patch from a persisted summary's engine columns.
func FromSummary(s domain.Summary) *Patch {
	p := NewPatch(s.Key(), s.ReferenceRecordID)
	p.Totals = s.Totals()
	for _, entry := range s.DailyBreakdown {
		p.Daily[entry.Date] = p.Daily[entry.Date].Add(entry.Vector())
	}
	return p
}

// Merge adds c into the patch. Contributions for another key are rejected.
func (p *Patch) Merge(c domain.Contribution) error {
	if c.Key() != p.Key {
		return domain.Inconsistent("contribution %s merged into %s", c.Key(), p.Key)
	}
	p.Totals = p.Totals.Add(c.Delta)
	p.Daily[c.DayKey] = p.Daily[c.DayKey].Add(c.Daily)
	return nil
}

// Negate returns the compensating contribution for c.
func Negate(c domain.Contribution) domain.Contribution {
	c.Delta = c.Delta.Neg()
	c.Daily = c.Daily.Neg()
	return c
}

// DailyEntries lists the non-zero days in ascending date order.
func (p *Patch) DailyEntries() []domain.DailyEntry {
	dates := make([]string, 0, len(p.Daily))
	for date, v := range p.Daily {
		if v.IsZero() {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)

	out := make([]domain.DailyEntry, 0, len(dates))
	for _, date := range dates {
		out = append(out, domain.NewDailyEntry(date, p.Daily[date]))
	}
	return out
}

// ApplyTo overwrites the engine columns of s. Identity and metadata are kept.
func (p *Patch) ApplyTo(s *domain.Summary) {
	s.OwnerID = p.Key.OwnerID
	s.PeriodKey = p.Key.PeriodKey
	s.SetTotals(p.Totals)
	s.DailyBreakdown = datatypes.JSONSlice[domain.DailyEntry](p.DailyEntries())
	s.ReferenceRecordID = p.ReferenceRecordID
}

// Summary emits the patch as a fresh summary row.
func (p *Patch) Summary() domain.Summary {
	s := domain.Summary{Metadata: datatypes.JSONMap{}}
	p.ApplyTo(&s)
	return s
}

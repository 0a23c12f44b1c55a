// Package breakdown explains a period's KPI totals by segment and top posts.
package breakdown

import (
	"fmt"
	"math"
	"sort"

	"github.com/mogcia-app/signal/internal/kpi/domain"
)

const (
	maxTopEntities   = 3
	insightThreshold = 0.5
)

// Build returns one breakdown per metric in domain.BreakdownMetrics order.
func Build(totals, previous domain.DeltaVector, entities []domain.EntityDelta) []domain.Breakdown {
	out := make([]domain.Breakdown, 0, len(domain.BreakdownMetrics))
	for _, metric := range domain.BreakdownMetrics {
		out = append(out, buildOne(metric, totals, previous, entities))
	}
	return out
}

func buildOne(metric domain.MetricName, totals, previous domain.DeltaVector, entities []domain.EntityDelta) domain.Breakdown {
	value := metric.Value(totals)
	prev := metric.Value(previous)

	b := domain.Breakdown{
		Metric:      metric,
		Value:       value,
		Previous:    prev,
		ChangePct:   ChangePct(value, prev),
		Segments:    segments(metric, value, entities),
		TopEntities: topEntities(metric, entities),
	}
	if len(b.Segments) > 0 && b.Segments[0].Share >= insightThreshold {
		top := b.Segments[0]
		b.Insight = fmt.Sprintf("%s drives %.0f%% of %s this period", top.Name, top.Share*100, metric)
	}
	return b
}

// ChangePct is nil when there is no previous value to compare against.
func ChangePct(value, previous int64) *float64 {
	if previous == 0 {
		return nil
	}
	pct := float64(value-previous) / math.Abs(float64(previous)) * 100
	return &pct
}

func segments(metric domain.MetricName, total int64, entities []domain.EntityDelta) []domain.Segment {
	sums := make(map[string]int64)
	for _, e := range entities {
		sums[e.Segment] += metric.Value(e.Delta)
	}

	out := make([]domain.Segment, 0, len(sums))
	for name, v := range sums {
		if v <= 0 {
			continue
		}
		seg := domain.Segment{Name: name, Value: v}
		if total > 0 {
			seg.Share = float64(v) / float64(total)
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func topEntities(metric domain.MetricName, entities []domain.EntityDelta) []domain.EntityValue {
	byID := make(map[string]*domain.EntityValue)
	for _, e := range entities {
		ev, ok := byID[e.EntityID]
		if !ok {
			ev = &domain.EntityValue{EntityID: e.EntityID, Segment: e.Segment}
			byID[e.EntityID] = ev
		}
		ev.Value += metric.Value(e.Delta)
	}

	out := make([]domain.EntityValue, 0, len(byID))
	for _, ev := range byID {
		if ev.Value > 0 {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].EntityID < out[j].EntityID
	})
	if len(out) > maxTopEntities {
		out = out[:maxTopEntities]
	}
	return out
}

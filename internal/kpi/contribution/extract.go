package contribution

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	billingcycle "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/kpi/domain"
)

// DefaultContentType is the segment used when an event carries none.
const DefaultContentType = "feed"

// Extractor turns raw events into contributions. It is a pure function of
// the event and the supported SNS kind.
type Extractor struct {
	supportedKind string
}

func NewExtractor(supportedKind string) Extractor {
	return Extractor{supportedKind: normalizeKind(supportedKind)}
}

// Extract reports false when the event does not count toward any summary.
func (e Extractor) Extract(ev domain.RawEvent) (domain.Contribution, bool) {
	ownerID := strings.TrimSpace(ev.OwnerID)
	if ownerID == "" {
		return domain.Contribution{}, false
	}
	kind := normalizeKind(ev.SNSKind)
	if kind != "" && kind != e.supportedKind {
		return domain.Contribution{}, false
	}
	publishedAt, ok := ev.PublishedAt.Resolve()
	if !ok {
		return domain.Contribution{}, false
	}
	publishedAt = publishedAt.UTC()

	m := ev.Metrics
	likes := ParseCount(m.Likes)
	comments := ParseCount(m.Comments)
	shares := ParseCount(m.Shares)
	saves := ParseCount(m.Saves)
	reach := ParseCount(m.Reach)

	interaction := ParseCount(m.InteractionCount)
	if interaction == 0 {
		interaction = likes + comments + shares + saves
	}

	return domain.Contribution{
		OwnerID:   ownerID,
		PeriodKey: publishedAt.Format(billingcycle.PeriodKeyLayout),
		DayKey:    publishedAt.Format(billingcycle.DayKeyLayout),
		Delta: domain.DeltaVector{
			Likes:            likes,
			Comments:         comments,
			Shares:           shares,
			Reach:            reach,
			Saves:            saves,
			FollowerIncrease: ParseCount(m.FollowerIncrease),
			Interaction:      interaction,
			ExternalLinkTaps: ParseCount(m.ExternalLinkTaps),
			ProfileVisits:    ParseCount(m.ProfileVisits),
			PostCount:        1,
		},
		Daily: domain.DailyVector{
			Likes:      likes,
			Reach:      reach,
			Saves:      saves,
			Comments:   comments,
			Engagement: interaction,
		},
		RecordID:    strings.TrimSpace(ev.RecordID),
		PublishedAt: publishedAt,
		ContentType: ContentType(ev.ContentType),
	}, true
}

// ContentType normalizes the segment name of an event.
func ContentType(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return DefaultContentType
	}
	return v
}

func normalizeKind(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseCount reads a loosely typed metric. Anything that is not a finite
// number becomes zero; fractional values are rounded half away from zero.
func ParseCount(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return fromUint(uint64(n))
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return fromUint(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		return parseString(n.String())
	case string:
		return parseString(n)
	default:
		return 0
	}
}

func parseString(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return fromFloat(f)
}

func fromFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	r := math.Round(f)
	if r >= math.MaxInt64 || r < math.MinInt64 {
		return 0
	}
	return int64(r)
}

func fromUint(u uint64) int64 {
	if u > math.MaxInt64 {
		return 0
	}
	return int64(u)
}

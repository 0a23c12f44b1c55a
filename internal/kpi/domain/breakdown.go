package domain

// MetricName names one KPI a breakdown is built for.
type MetricName string

const (
	MetricLikes            MetricName = "likes"
	MetricComments         MetricName = "comments"
	MetricShares           MetricName = "shares"
	MetricSaves            MetricName = "saves"
	MetricReach            MetricName = "reach"
	MetricFollowerIncrease MetricName = "followerIncrease"
	MetricInteraction      MetricName = "interaction"
	MetricExternalLinkTaps MetricName = "externalLinkTaps"
	MetricProfileVisits    MetricName = "profileVisits"
	MetricPostCount        MetricName = "postCount"
)

// BreakdownMetrics is the fixed order breakdowns are returned in.
var BreakdownMetrics = []MetricName{
	MetricLikes,
	MetricComments,
	MetricShares,
	MetricSaves,
	MetricReach,
	MetricFollowerIncrease,
	MetricInteraction,
	MetricExternalLinkTaps,
	MetricProfileVisits,
	MetricPostCount,
}

// Value picks one metric out of a delta vector.
func (m MetricName) Value(d DeltaVector) int64 {
	switch m {
	case MetricLikes:
		return d.Likes
	case MetricComments:
		return d.Comments
	case MetricShares:
		return d.Shares
	case MetricSaves:
		return d.Saves
	case MetricReach:
		return d.Reach
	case MetricFollowerIncrease:
		return d.FollowerIncrease
	case MetricInteraction:
		return d.Interaction
	case MetricExternalLinkTaps:
		return d.ExternalLinkTaps
	case MetricProfileVisits:
		return d.ProfileVisits
	case MetricPostCount:
		return d.PostCount
	default:
		return 0
	}
}

// EntityDelta is one post's contribution, tagged with its segment.
type EntityDelta struct {
	EntityID string
	Segment  string
	Delta    DeltaVector
}

type Segment struct {
	Name  string  `json:"name"`
	Value int64   `json:"value"`
	Share float64 `json:"share"`
}

type EntityValue struct {
	EntityID string `json:"entityId"`
	Segment  string `json:"segment,omitempty"`
	Value    int64  `json:"value"`
}

type Breakdown struct {
	Metric      MetricName    `json:"metric"`
	Value       int64         `json:"value"`
	Previous    int64         `json:"previous"`
	ChangePct   *float64      `json:"changePct"`
	Segments    []Segment     `json:"segments"`
	TopEntities []EntityValue `json:"topEntities"`
	Insight     string        `json:"insight,omitempty"`
}

// BreakdownReport is the read model for one owner and period.
type BreakdownReport struct {
	OwnerID           string      `json:"ownerId"`
	PeriodKey         string      `json:"periodKey"`
	PreviousPeriodKey string      `json:"previousPeriodKey"`
	Breakdowns        []Breakdown `json:"breakdowns"`
}

package domain

import "time"

// DeltaVector is the additive part of one event's effect on monthly totals.
type DeltaVector struct {
	Likes            int64 `json:"likes"`
	Comments         int64 `json:"comments"`
	Shares           int64 `json:"shares"`
	Reach            int64 `json:"reach"`
	Saves            int64 `json:"saves"`
	FollowerIncrease int64 `json:"followerIncrease"`
	Interaction      int64 `json:"interaction"`
	ExternalLinkTaps int64 `json:"externalLinkTaps"`
	ProfileVisits    int64 `json:"profileVisits"`
	PostCount        int64 `json:"postCount"`
}

func (d DeltaVector) Add(o DeltaVector) DeltaVector {
	return DeltaVector{
		Likes:            d.Likes + o.Likes,
		Comments:         d.Comments + o.Comments,
		Shares:           d.Shares + o.Shares,
		Reach:            d.Reach + o.Reach,
		Saves:            d.Saves + o.Saves,
		FollowerIncrease: d.FollowerIncrease + o.FollowerIncrease,
		Interaction:      d.Interaction + o.Interaction,
		ExternalLinkTaps: d.ExternalLinkTaps + o.ExternalLinkTaps,
		ProfileVisits:    d.ProfileVisits + o.ProfileVisits,
		PostCount:        d.PostCount + o.PostCount,
	}
}

func (d DeltaVector) Neg() DeltaVector {
	return DeltaVector{
		Likes:            -d.Likes,
		Comments:         -d.Comments,
		Shares:           -d.Shares,
		Reach:            -d.Reach,
		Saves:            -d.Saves,
		FollowerIncrease: -d.FollowerIncrease,
		Interaction:      -d.Interaction,
		ExternalLinkTaps: -d.ExternalLinkTaps,
		ProfileVisits:    -d.ProfileVisits,
		PostCount:        -d.PostCount,
	}
}

// Floor clamps every field at zero for display.
func (d DeltaVector) Floor() DeltaVector {
	return DeltaVector{
		Likes:            floor(d.Likes),
		Comments:         floor(d.Comments),
		Shares:           floor(d.Shares),
		Reach:            floor(d.Reach),
		Saves:            floor(d.Saves),
		FollowerIncrease: floor(d.FollowerIncrease),
		Interaction:      floor(d.Interaction),
		ExternalLinkTaps: floor(d.ExternalLinkTaps),
		ProfileVisits:    floor(d.ProfileVisits),
		PostCount:        floor(d.PostCount),
	}
}

// DailyVector is the subset of metrics tracked per calendar day.
type DailyVector struct {
	Likes      int64 `json:"likes"`
	Reach      int64 `json:"reach"`
	Saves      int64 `json:"saves"`
	Comments   int64 `json:"comments"`
	Engagement int64 `json:"engagement"`
}

func (d DailyVector) Add(o DailyVector) DailyVector {
	return DailyVector{
		Likes:      d.Likes + o.Likes,
		Reach:      d.Reach + o.Reach,
		Saves:      d.Saves + o.Saves,
		Comments:   d.Comments + o.Comments,
		Engagement: d.Engagement + o.Engagement,
	}
}

func (d DailyVector) Neg() DailyVector {
	return DailyVector{
		Likes:      -d.Likes,
		Reach:      -d.Reach,
		Saves:      -d.Saves,
		Comments:   -d.Comments,
		Engagement: -d.Engagement,
	}
}

func (d DailyVector) IsZero() bool {
	return d == DailyVector{}
}

func (d DailyVector) Floor() DailyVector {
	return DailyVector{
		Likes:      floor(d.Likes),
		Reach:      floor(d.Reach),
		Saves:      floor(d.Saves),
		Comments:   floor(d.Comments),
		Engagement: floor(d.Engagement),
	}
}

func floor(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Contribution is the normalized effect of one raw event on one summary.
type Contribution struct {
	OwnerID     string
	PeriodKey   string
	DayKey      string
	Delta       DeltaVector
	Daily       DailyVector
	RecordID    string
	PublishedAt time.Time
	ContentType string
}

func (c Contribution) Key() SummaryKey {
	return SummaryKey{OwnerID: c.OwnerID, PeriodKey: c.PeriodKey}
}

// SummaryKey identifies one persisted summary.
type SummaryKey struct {
	OwnerID   string
	PeriodKey string
}

func (k SummaryKey) String() string {
	return k.OwnerID + "/" + k.PeriodKey
}

func (k SummaryKey) Less(o SummaryKey) bool {
	if k.OwnerID != o.OwnerID {
		return k.OwnerID < o.OwnerID
	}
	return k.PeriodKey < o.PeriodKey
}

// Reference is the record that anchors a summary: the latest published event.
type Reference struct {
	RecordID    string
	PublishedAt time.Time
}

// Newer reports whether r should replace current as the summary reference.
// Later publishedAt wins; ties go to the larger record id.
func (r Reference) Newer(current Reference) bool {
	if current.RecordID == "" {
		return r.RecordID != ""
	}
	if !r.PublishedAt.Equal(current.PublishedAt) {
		return r.PublishedAt.After(current.PublishedAt)
	}
	return r.RecordID > current.RecordID
}

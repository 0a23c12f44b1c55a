package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DailyEntry is one non-empty day inside a summary's breakdown.
type DailyEntry struct {
	Date       string `json:"date"`
	Likes      int64  `json:"likes"`
	Reach      int64  `json:"reach"`
	Saves      int64  `json:"saves"`
	Comments   int64  `json:"comments"`
	Engagement int64  `json:"engagement"`
}

func (e DailyEntry) Vector() DailyVector {
	return DailyVector{Likes: e.Likes, Reach: e.Reach, Saves: e.Saves, Comments: e.Comments, Engagement: e.Engagement}
}

func NewDailyEntry(date string, v DailyVector) DailyEntry {
	return DailyEntry{Date: date, Likes: v.Likes, Reach: v.Reach, Saves: v.Saves, Comments: v.Comments, Engagement: v.Engagement}
}

// Summary is the persisted running total for one owner and month. Metadata
// belongs to downstream consumers and is never written by the engine.
type Summary struct {
	ID                    snowflake.ID                    `gorm:"primaryKey" json:"id"`
	OwnerID               string                          `gorm:"type:text;not null;uniqueIndex:ux_kpi_summary_owner_period,priority:1" json:"ownerId"`
	PeriodKey             string                          `gorm:"type:text;not null;uniqueIndex:ux_kpi_summary_owner_period,priority:2;index" json:"periodKey"`
	TotalLikes            int64                           `gorm:"not null" json:"totalLikes"`
	TotalComments         int64                           `gorm:"not null" json:"totalComments"`
	TotalShares           int64                           `gorm:"not null" json:"totalShares"`
	TotalReach            int64                           `gorm:"not null" json:"totalReach"`
	TotalSaves            int64                           `gorm:"not null" json:"totalSaves"`
	TotalFollowerIncrease int64                           `gorm:"not null" json:"totalFollowerIncrease"`
	TotalInteraction      int64                           `gorm:"not null" json:"totalInteraction"`
	TotalExternalLinkTaps int64                           `gorm:"not null" json:"totalExternalLinkTaps"`
	TotalProfileVisits    int64                           `gorm:"not null" json:"totalProfileVisits"`
	PostCount             int64                           `gorm:"not null" json:"postCount"`
	DailyBreakdown        datatypes.JSONSlice[DailyEntry] `gorm:"type:jsonb;not null" json:"dailyBreakdown"`
	ReferenceRecordID     string                          `gorm:"type:text;not null" json:"referenceRecordId"`
	Metadata              datatypes.JSONMap               `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt             time.Time                       `gorm:"not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt             time.Time                       `gorm:"not null;autoUpdateTime:false" json:"updatedAt"`
}

func (Summary) TableName() string { return "kpi_monthly_summaries" }

// EngineColumns are the columns the engine owns. Upserts overwrite only these.
var EngineColumns = []string{
	"total_likes",
	"total_comments",
	"total_shares",
	"total_reach",
	"total_saves",
	"total_follower_increase",
	"total_interaction",
	"total_external_link_taps",
	"total_profile_visits",
	"post_count",
	"daily_breakdown",
	"reference_record_id",
	"updated_at",
}

func (s Summary) Key() SummaryKey {
	return SummaryKey{OwnerID: s.OwnerID, PeriodKey: s.PeriodKey}
}

func (s Summary) Totals() DeltaVector {
	return DeltaVector{
		Likes:            s.TotalLikes,
		Comments:         s.TotalComments,
		Shares:           s.TotalShares,
		Reach:            s.TotalReach,
		Saves:            s.TotalSaves,
		FollowerIncrease: s.TotalFollowerIncrease,
		Interaction:      s.TotalInteraction,
		ExternalLinkTaps: s.TotalExternalLinkTaps,
		ProfileVisits:    s.TotalProfileVisits,
		PostCount:        s.PostCount,
	}
}

func (s *Summary) SetTotals(d DeltaVector) {
	s.TotalLikes = d.Likes
	s.TotalComments = d.Comments
	s.TotalShares = d.Shares
	s.TotalReach = d.Reach
	s.TotalSaves = d.Saves
	s.TotalFollowerIncrease = d.FollowerIncrease
	s.TotalInteraction = d.Interaction
	s.TotalExternalLinkTaps = d.ExternalLinkTaps
	s.TotalProfileVisits = d.ProfileVisits
	s.PostCount = d.PostCount
}

// DisplaySummary is a summary as shown to readers: every value floored at zero.
type DisplaySummary struct {
	OwnerID           string       `json:"ownerId"`
	PeriodKey         string       `json:"periodKey"`
	Totals            DeltaVector  `json:"totals"`
	DailyBreakdown    []DailyEntry `json:"dailyBreakdown"`
	ReferenceRecordID string       `json:"referenceRecordId,omitempty"`
	Exists            bool         `json:"exists"`
	UpdatedAt         *time.Time   `json:"updatedAt,omitempty"`
}

// Display applies the read-side floor. Stored values are left untouched.
func (s Summary) Display() DisplaySummary {
	daily := make([]DailyEntry, 0, len(s.DailyBreakdown))
	for _, entry := range s.DailyBreakdown {
		// Negative-only days stay stored for compensation but show nothing.
		floored := entry.Vector().Floor()
		if floored.IsZero() {
			continue
		}
		daily = append(daily, NewDailyEntry(entry.Date, floored))
	}
	updated := s.UpdatedAt
	return DisplaySummary{
		OwnerID:           s.OwnerID,
		PeriodKey:         s.PeriodKey,
		Totals:            s.Totals().Floor(),
		DailyBreakdown:    daily,
		ReferenceRecordID: s.ReferenceRecordID,
		Exists:            true,
		UpdatedAt:         &updated,
	}
}

// EmptyDisplay is what readers see for a month with no summary yet.
func EmptyDisplay(key SummaryKey) DisplaySummary {
	return DisplaySummary{
		OwnerID:        key.OwnerID,
		PeriodKey:      key.PeriodKey,
		DailyBreakdown: []DailyEntry{},
	}
}

type Op string

const (
	OpCreate Op = "create"
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Transition is one mutation of a raw event. Create carries After, delete
// carries Before, edit carries both.
type Transition struct {
	Op     Op        `json:"op"`
	Before *RawEvent `json:"before,omitempty"`
	After  *RawEvent `json:"after,omitempty"`
}

func (t Transition) Validate() error {
	switch t.Op {
	case OpCreate:
		if t.After == nil {
			return ErrInvalidTransition
		}
	case OpEdit:
		if t.Before == nil || t.After == nil {
			return ErrInvalidTransition
		}
	case OpDelete:
		if t.Before == nil {
			return ErrInvalidTransition
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

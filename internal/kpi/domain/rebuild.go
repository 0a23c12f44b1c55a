package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type RebuildStatus string

const (
	RebuildStatusPending    RebuildStatus = "pending"
	RebuildStatusProcessing RebuildStatus = "processing"
	RebuildStatusCompleted  RebuildStatus = "completed"
	RebuildStatusFailed     RebuildStatus = "failed"
)

// RebuildRequest is an on-demand reconcile queued for the scheduler.
type RebuildRequest struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	PeriodKey       string        `gorm:"type:text;not null;default:''" json:"periodKey,omitempty"`
	DryRun          bool          `gorm:"not null;default:false" json:"dryRun"`
	OwnerID         string        `gorm:"type:text;not null;default:''" json:"ownerId,omitempty"`
	Status          RebuildStatus `gorm:"type:text;not null;index" json:"status"`
	RunID           string        `gorm:"type:text;not null;default:''" json:"runId,omitempty"`
	Processed       int64         `gorm:"not null;default:0" json:"processed"`
	Skipped         int64         `gorm:"not null;default:0" json:"skipped"`
	WritesCommitted int64         `gorm:"not null;default:0" json:"writesCommitted"`
	Error           string        `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;index" json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
}

func (RebuildRequest) TableName() string { return "kpi_rebuild_requests" }

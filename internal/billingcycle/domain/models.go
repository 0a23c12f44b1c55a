package domain

import (
	"strings"
	"time"
)

// OwnerProfile holds the settings that define an owner's billing month.
// A zero AnchorDay means the anchor follows AccountCreatedAt.
type OwnerProfile struct {
	OwnerID          string     `gorm:"primaryKey;type:text" json:"ownerId"`
	Timezone         string     `gorm:"type:text;not null;default:''" json:"timezone"`
	AnchorDay        int        `gorm:"not null;default:0" json:"anchorDay"`
	AccountCreatedAt *time.Time `json:"accountCreatedAt,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"not null;autoUpdateTime:false" json:"updatedAt"`
}

func (OwnerProfile) TableName() string { return "owner_profiles" }

// ResolvedProfile is an owner profile with every default applied.
type ResolvedProfile struct {
	OwnerID          string     `json:"ownerId"`
	Timezone         string     `json:"timezone"`
	AnchorDay        int        `json:"anchorDay"`
	AccountCreatedAt *time.Time `json:"accountCreatedAt,omitempty"`
	Stored           bool       `json:"stored"`

	location *time.Location
}

// Resolve applies the default timezone and anchor rules to p. A nil p
// resolves to the defaults for ownerID.
func Resolve(ownerID string, p *OwnerProfile, defaultTimezone string) ResolvedProfile {
	out := ResolvedProfile{OwnerID: strings.TrimSpace(ownerID)}
	tz := ""
	if p != nil {
		out.Stored = true
		out.AccountCreatedAt = p.AccountCreatedAt
		tz = p.Timezone
	}
	loc := LoadLocation(tz, defaultTimezone)
	out.location = loc
	out.Timezone = loc.String()

	switch {
	case p != nil && p.AnchorDay != 0:
		out.AnchorDay = ClampAnchorDay(p.AnchorDay)
	case p != nil && p.AccountCreatedAt != nil:
		out.AnchorDay = AnchorDayFromCreatedAt(*p.AccountCreatedAt, loc)
	default:
		out.AnchorDay = MinAnchorDay
	}
	return out
}

func (p ResolvedProfile) Location() *time.Location {
	if p.location == nil {
		return LoadLocation(p.Timezone, "")
	}
	return p.location
}

// OwnerWindows is an owner's current billing window and the one before it.
type OwnerWindows struct {
	Profile ResolvedProfile `json:"profile"`
	CurrentWindows
}

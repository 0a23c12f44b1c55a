package domain

import (
	"context"
	"errors"
	"time"
)

type UpsertProfileRequest struct {
	OwnerID          string     `json:"-"`
	Timezone         *string    `json:"timezone"`
	AnchorDay        *int       `json:"anchorDay"`
	AccountCreatedAt *time.Time `json:"accountCreatedAt"`
}

type Service interface {
	GetProfile(ctx context.Context, ownerID string) (ResolvedProfile, error)
	UpsertProfile(ctx context.Context, req UpsertProfileRequest) (ResolvedProfile, error)
	CurrentWindows(ctx context.Context, ownerID string) (OwnerWindows, error)
	WindowForKey(ctx context.Context, ownerID, periodKey string) (PeriodWindow, error)
}

var (
	ErrInvalidTimezone  = errors.New("invalid_timezone")
	ErrInvalidAnchorDay = errors.New("invalid_anchor_day")
)

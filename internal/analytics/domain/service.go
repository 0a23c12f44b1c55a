package domain

import (
	"context"
	"errors"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
)

var (
	ErrEventNotFound    = errors.New("event_not_found")
	ErrInvalidRecordID  = errors.New("invalid_record_id")
	ErrOwnerMismatch    = errors.New("owner_mismatch")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)

type ListRequest struct {
	OwnerID   string
	PeriodKey string
	PageToken string
	PageSize  int
}

type ListResponse struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Service owns the raw event store. Every mutation is applied to the KPI
// summaries in the same transaction.
//
//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks
type Service interface {
	// Put creates the record, or replaces it when the id already exists.
	Put(ctx context.Context, raw kpidomain.RawEvent) (Event, error)
	Update(ctx context.Context, raw kpidomain.RawEvent) (Event, error)
	// Delete removes the record. Deleting a missing record is an error unless
	// ignoreMissing is set.
	Delete(ctx context.Context, ownerID, recordID string, ignoreMissing bool) error
	Get(ctx context.Context, ownerID, recordID string) (Event, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

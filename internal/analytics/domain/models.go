package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"gorm.io/datatypes"
)

// Event is a stored analytics record. PublishedAt is set when the incoming
// timestamp resolved; PublishedAtRaw keeps unresolvable text as received.
type Event struct {
	RecordID       string         `gorm:"primaryKey;type:text" json:"recordId"`
	OwnerID        string         `gorm:"type:text;not null;index:ix_analytics_events_owner_published,priority:1" json:"ownerId"`
	SNSKind        string         `gorm:"type:text;not null;default:''" json:"snsKind"`
	ContentType    string         `gorm:"type:text;not null;default:''" json:"contentType"`
	PublishedAt    *time.Time     `gorm:"index:ix_analytics_events_owner_published,priority:2;index" json:"publishedAt,omitempty"`
	PublishedAtRaw string         `gorm:"type:text;not null;default:''" json:"publishedAtRaw,omitempty"`
	Metrics        datatypes.JSON `gorm:"type:jsonb;not null" json:"metrics"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"not null;autoUpdateTime:false" json:"updatedAt"`
}

func (Event) TableName() string { return "analytics_events" }

// FromRaw normalizes a raw event for storage. Resolvable timestamps are
// stored in UTC at the database's microsecond precision.
func FromRaw(raw kpidomain.RawEvent) (Event, error) {
	metrics, err := json.Marshal(raw.Metrics)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		RecordID:    strings.TrimSpace(raw.RecordID),
		OwnerID:     strings.TrimSpace(raw.OwnerID),
		SNSKind:     strings.TrimSpace(raw.SNSKind),
		ContentType: strings.TrimSpace(raw.ContentType),
		Metrics:     datatypes.JSON(metrics),
	}
	if t, ok := raw.PublishedAt.Resolve(); ok {
		utc := t.UTC().Truncate(time.Microsecond)
		ev.PublishedAt = &utc
	} else if raw.PublishedAt.Kind() == kpidomain.TimestampString {
		ev.PublishedAtRaw = raw.PublishedAt.Text()
	}
	return ev, nil
}

// ToRaw converts the stored row back to the engine's input shape. Numbers
// keep their exact text.
func (e Event) ToRaw() (kpidomain.RawEvent, error) {
	raw := kpidomain.RawEvent{
		RecordID:    e.RecordID,
		OwnerID:     e.OwnerID,
		SNSKind:     e.SNSKind,
		ContentType: e.ContentType,
	}
	switch {
	case e.PublishedAt != nil:
		raw.PublishedAt = kpidomain.NativeTimestamp(e.PublishedAt.UTC())
	case e.PublishedAtRaw != "":
		raw.PublishedAt = kpidomain.StringTimestamp(e.PublishedAtRaw)
	}
	if len(e.Metrics) > 0 {
		dec := json.NewDecoder(bytes.NewReader(e.Metrics))
		dec.UseNumber()
		if err := dec.Decode(&raw.Metrics); err != nil {
			return kpidomain.RawEvent{}, err
		}
	}
	return raw, nil
}

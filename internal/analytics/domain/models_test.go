package domain

import (
	"encoding/json"
	"testing"
	"time"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRawTruncatesAndKeepsNumbers(t *testing.T) {
	at := time.Date(2024, 5, 3, 10, 0, 0, 123456789, time.FixedZone("JST", 9*60*60))
	raw := kpidomain.RawEvent{
		RecordID:    " r1 ",
		OwnerID:     " o1 ",
		SNSKind:     "instagram",
		PublishedAt: kpidomain.NativeTimestamp(at),
		Metrics:     kpidomain.Metrics{Likes: int64(9007199254740993), Comments: "4"},
	}

	ev, err := FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "r1", ev.RecordID)
	assert.Equal(t, "o1", ev.OwnerID)
	require.NotNil(t, ev.PublishedAt)
	assert.Equal(t, time.Date(2024, 5, 3, 1, 0, 0, 123456000, time.UTC), *ev.PublishedAt)

	back, err := ev.ToRaw()
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), back.Metrics.Likes)
	assert.Equal(t, "4", back.Metrics.Comments)
	got, ok := back.PublishedAt.Resolve()
	require.True(t, ok)
	assert.True(t, got.Equal(*ev.PublishedAt))
}

func TestFromRawKeepsUnresolvableText(t *testing.T) {
	raw := kpidomain.RawEvent{
		RecordID:    "r1",
		OwnerID:     "o1",
		PublishedAt: kpidomain.StringTimestamp("yesterday"),
	}

	ev, err := FromRaw(raw)
	require.NoError(t, err)
	assert.Nil(t, ev.PublishedAt)
	assert.Equal(t, "yesterday", ev.PublishedAtRaw)

	back, err := ev.ToRaw()
	require.NoError(t, err)
	assert.Equal(t, kpidomain.TimestampString, back.PublishedAt.Kind())
	_, ok := back.PublishedAt.Resolve()
	assert.False(t, ok)
}

func TestToRawMissingTimestamp(t *testing.T) {
	ev := Event{RecordID: "r1", OwnerID: "o1", Metrics: []byte(`{}`)}
	back, err := ev.ToRaw()
	require.NoError(t, err)
	assert.Equal(t, kpidomain.TimestampMissing, back.PublishedAt.Kind())
}

package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	"github.com/mogcia-app/signal/internal/analytics/mocks"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type call struct {
	op      string
	owner   string
	record  string
	ignored bool
}

type fakeWriter struct {
	calls []call
	err   error
}

func (w *fakeWriter) Put(_ context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error) {
	w.calls = append(w.calls, call{op: "put", owner: raw.OwnerID, record: raw.RecordID})
	return analyticsdomain.Event{RecordID: raw.RecordID}, w.err
}

func (w *fakeWriter) Delete(_ context.Context, ownerID, recordID string, ignoreMissing bool) error {
	w.calls = append(w.calls, call{op: "delete", owner: ownerID, record: recordID, ignored: ignoreMissing})
	return w.err
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"op":" Create ","after":{"recordId":"r1","ownerId":"o1","publishedAt":{"seconds":1715331600},"metrics":{"likes":"3"}}}`))
	require.NoError(t, err)
	assert.Equal(t, OpCreate, msg.Op)
	require.NotNil(t, msg.After)
	assert.Equal(t, kpidomain.TimestampWrapped, msg.After.PublishedAt.Kind())
	assert.Equal(t, "3", msg.After.Metrics.Likes)

	for _, bad := range []string{
		`not json`,
		`{"op":"create"}`,
		`{"op":"delete","after":{"recordId":"r1"}}`,
		`{"op":"merge","after":{"recordId":"r1"}}`,
	} {
		_, err := Decode([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedMessage, bad)
	}
}

func TestHandlerRoutesOps(t *testing.T) {
	w := &fakeWriter{}
	h := NewHandler(w, zap.NewNop(), nil)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"op":"create","after":{"recordId":"r1","ownerId":"o1"}}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"op":"update","before":{"recordId":"r1","ownerId":"o1"},"after":{"recordId":"r1","ownerId":"o2"}}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"op":"delete","before":{"recordId":"r1","ownerId":"o2"}}`)))

	assert.Equal(t, []call{
		{op: "put", owner: "o1", record: "r1"},
		{op: "delete", owner: "o1", record: "r1", ignored: true},
		{op: "put", owner: "o2", record: "r1"},
		{op: "delete", owner: "o2", record: "r1", ignored: true},
	}, w.calls)
}

func TestHandlerDropsPermanentFailures(t *testing.T) {
	w := &fakeWriter{err: analyticsdomain.ErrOwnerMismatch}
	h := NewHandler(w, zap.NewNop(), nil)
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"op":"create","after":{"recordId":"r1","ownerId":"o1"}}`)))
	assert.NoError(t, h.Handle(context.Background(), []byte(`garbage`)))

	w.err = kpidomain.Transient("write", errors.New("connection reset"))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"op":"create","after":{"recordId":"r1","ownerId":"o1"}}`)))
}

func TestProcessBlocksPartitionOnFailure(t *testing.T) {
	c := &Consumer{
		log: zap.NewNop(),
		handler: func(_ context.Context, value []byte) error {
			if string(value) == "fail" {
				return errors.New("boom")
			}
			return nil
		},
	}
	records := []*kgo.Record{
		{Topic: "events", Partition: 0, Offset: 0, Value: []byte("ok")},
		{Topic: "events", Partition: 0, Offset: 1, Value: []byte("fail")},
		{Topic: "events", Partition: 0, Offset: 2, Value: []byte("ok")},
		{Topic: "events", Partition: 1, Offset: 5, Value: []byte("ok")},
		{Topic: "events", Partition: 1, Offset: 6, Value: []byte("ok")},
	}

	commit, rewind := c.process(context.Background(), records)
	require.Len(t, commit, 2)
	assert.EqualValues(t, 0, commit[0].Offset)
	assert.EqualValues(t, 6, commit[1].Offset)
	assert.Equal(t, map[string]map[int32]kgo.EpochOffset{
		"events": {0: {Epoch: 0, Offset: 1}},
	}, rewind)
}

func TestRedeliveryBackoffDoublesAndCaps(t *testing.T) {
	b := redeliveryBackoff{min: 100 * time.Millisecond, max: time.Second}

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)

	b.reset()
	assert.Equal(t, 100*time.Millisecond, b.next())
}

func TestHandlerMovesRecordBetweenOwnersInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	h := NewHandler(svc, zap.NewNop(), nil)

	gomock.InOrder(
		svc.EXPECT().Delete(gomock.Any(), "o1", "r1", true).Return(nil),
		svc.EXPECT().Put(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error) {
				assert.Equal(t, "o2", raw.OwnerID)
				return analyticsdomain.Event{}, kpidomain.Transient("write", errors.New("connection reset"))
			}),
	)

	err := h.Handle(context.Background(), []byte(`{"op":"update","before":{"recordId":"r1","ownerId":"o1"},"after":{"recordId":"r1","ownerId":"o2"}}`))
	assert.Error(t, err)
}

// Package feed applies the upstream change feed to the analytics store.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ErrMalformedMessage marks a record that can never be applied.
var ErrMalformedMessage = errors.New("malformed_feed_message")

// Message is one change-feed record. Before is the document as it was, After
// as it is now; create carries only After and delete only Before.
type Message struct {
	Op     string              `json:"op"`
	Before *kpidomain.RawEvent `json:"before,omitempty"`
	After  *kpidomain.RawEvent `json:"after,omitempty"`
}

// Writer is the part of the analytics service the feed drives.
type Writer interface {
	Put(ctx context.Context, raw kpidomain.RawEvent) (analyticsdomain.Event, error)
	Delete(ctx context.Context, ownerID, recordID string, ignoreMissing bool) error
}

func Decode(value []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.Op = strings.ToLower(strings.TrimSpace(msg.Op))
	switch msg.Op {
	case OpCreate, OpUpdate:
		if msg.After == nil {
			return Message{}, fmt.Errorf("%w: %s without after", ErrMalformedMessage, msg.Op)
		}
	case OpDelete:
		if msg.Before == nil {
			return Message{}, fmt.Errorf("%w: delete without before", ErrMalformedMessage)
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown op %q", ErrMalformedMessage, msg.Op)
	}
	return msg, nil
}

// Handler applies decoded messages. Redelivery is expected: create and
// update both upsert, and deleting a missing record succeeds.
type Handler struct {
	writer  Writer
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewHandler(writer Writer, log *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{writer: writer, log: log.Named("analytics.feed"), metrics: m}
}

// Handle returns an error only when the record should be redelivered.
// Records that can never succeed are logged and dropped.
func (h *Handler) Handle(ctx context.Context, value []byte) error {
	msg, err := Decode(value)
	if err != nil {
		h.metrics.RecordFeedMessage(ctx, "unknown", err)
		h.log.Warn("dropping malformed feed message", zap.Error(err))
		return nil
	}

	err = h.apply(ctx, msg)
	h.metrics.RecordFeedMessage(ctx, msg.Op, err)
	if err == nil {
		return nil
	}
	if Retryable(err) {
		return err
	}
	h.log.Warn("dropping feed message",
		zap.String("op", msg.Op),
		zap.String("record_id", recordID(msg)),
		zap.Error(err),
	)
	return nil
}

func (h *Handler) apply(ctx context.Context, msg Message) error {
	switch msg.Op {
	case OpDelete:
		return h.writer.Delete(ctx, msg.Before.OwnerID, msg.Before.RecordID, true)
	default:
		// An update that moved the record to another owner removes the old copy first.
		if msg.Before != nil && msg.Before.RecordID == msg.After.RecordID &&
			strings.TrimSpace(msg.Before.OwnerID) != strings.TrimSpace(msg.After.OwnerID) {
			if err := h.writer.Delete(ctx, msg.Before.OwnerID, msg.Before.RecordID, true); err != nil {
				return err
			}
		}
		_, err := h.writer.Put(ctx, *msg.After)
		return err
	}
}

// Retryable reports whether a failed message should be redelivered.
func Retryable(err error) bool {
	return kpidomain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func recordID(msg Message) string {
	if msg.After != nil {
		return msg.After.RecordID
	}
	if msg.Before != nil {
		return msg.Before.RecordID
	}
	return ""
}

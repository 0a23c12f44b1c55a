package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RawEvent is one analytics record as it arrives from the document store.
// Numeric metrics are loosely typed and resolved by the extractor.
type RawEvent struct {
	RecordID    string    `json:"recordId"`
	OwnerID     string    `json:"ownerId"`
	SNSKind     string    `json:"snsKind,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	PublishedAt Timestamp `json:"publishedAt"`
	Metrics     Metrics   `json:"metrics"`
}

type Metrics struct {
	Likes            any `json:"likes,omitempty"`
	Comments         any `json:"comments,omitempty"`
	Shares           any `json:"shares,omitempty"`
	Reach            any `json:"reach,omitempty"`
	Saves            any `json:"saves,omitempty"`
	FollowerIncrease any `json:"followerIncrease,omitempty"`
	InteractionCount any `json:"interactionCount,omitempty"`
	ExternalLinkTaps any `json:"externalLinkTaps,omitempty"`
	ProfileVisits    any `json:"profileVisits,omitempty"`
}

type TimestampKind int

const (
	TimestampMissing TimestampKind = iota
	TimestampNative
	TimestampWrapped
	TimestampString
)

func (k TimestampKind) String() string {
	switch k {
	case TimestampNative:
		return "native"
	case TimestampWrapped:
		return "wrapped"
	case TimestampString:
		return "string"
	default:
		return "missing"
	}
}

// WrappedTime is a store-specific timestamp object that can convert itself.
type WrappedTime interface {
	ToTime() (time.Time, error)
}

// Timestamp holds exactly one of a native time, a wrapped store timestamp,
// or a string still to be parsed.
type Timestamp struct {
	kind    TimestampKind
	native  time.Time
	wrapped WrappedTime
	text    string
}

func NativeTimestamp(t time.Time) Timestamp {
	return Timestamp{kind: TimestampNative, native: t}
}

func WrappedTimestamp(w WrappedTime) Timestamp {
	if w == nil {
		return Timestamp{}
	}
	return Timestamp{kind: TimestampWrapped, wrapped: w}
}

func StringTimestamp(s string) Timestamp {
	return Timestamp{kind: TimestampString, text: s}
}

func (ts Timestamp) Kind() TimestampKind { return ts.kind }

// Text returns the raw string of a string timestamp.
func (ts Timestamp) Text() string { return ts.text }

var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Resolve converts the timestamp to an instant. Zone-less strings are UTC.
func (ts Timestamp) Resolve() (time.Time, bool) {
	var (
		t   time.Time
		err error
	)
	switch ts.kind {
	case TimestampNative:
		t = ts.native
	case TimestampWrapped:
		t, err = ts.wrapped.ToTime()
	case TimestampString:
		t, err = parseTimestampString(ts.text)
	default:
		return time.Time{}, false
	}
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

func parseTimestampString(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	var lastErr error
	for _, layout := range stringLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// SecondsTimestamp is the {seconds, nanoseconds} object document stores emit.
type SecondsTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

func (s SecondsTimestamp) ToTime() (time.Time, error) {
	if s.Nanoseconds < 0 || s.Nanoseconds >= int64(time.Second) {
		return time.Time{}, errors.New("nanoseconds out of range")
	}
	return time.Unix(s.Seconds, s.Nanoseconds).UTC(), nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	switch ts.kind {
	case TimestampNative:
		return json.Marshal(ts.native.UTC().Format(time.RFC3339Nano))
	case TimestampWrapped:
		if sec, ok := ts.wrapped.(SecondsTimestamp); ok {
			return json.Marshal(sec)
		}
		if t, ok := ts.Resolve(); ok {
			return json.Marshal(t.UTC().Format(time.RFC3339Nano))
		}
		return []byte("null"), nil
	case TimestampString:
		return json.Marshal(ts.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON never fails on shape: strings become string timestamps,
// objects become wrapped timestamps, anything else is kept as unparseable text.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*ts = Timestamp{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*ts = StringTimestamp(s)
	case data[0] == '{':
		var obj struct {
			Seconds      *int64 `json:"seconds"`
			Nanoseconds  int64  `json:"nanoseconds"`
			USeconds     *int64 `json:"_seconds"`
			UNanoseconds int64  `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			*ts = StringTimestamp(string(data))
			return nil
		}
		switch {
		case obj.Seconds != nil:
			*ts = WrappedTimestamp(SecondsTimestamp{Seconds: *obj.Seconds, Nanoseconds: obj.Nanoseconds})
		case obj.USeconds != nil:
			*ts = WrappedTimestamp(SecondsTimestamp{Seconds: *obj.USeconds, Nanoseconds: obj.UNanoseconds})
		default:
			*ts = StringTimestamp(string(data))
		}
	default:
		*ts = StringTimestamp(string(data))
	}
	return nil
}

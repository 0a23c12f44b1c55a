package domain

import (
	"fmt"
	"strings"
	"time"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
)

const (
	PeriodKeyLayout = "2006-01"
	DayKeyLayout    = "2006-01-02"

	MinAnchorDay = 1
	MaxAnchorDay = 31

	fallbackZoneName   = "JST"
	fallbackZoneOffset = 9 * 60 * 60
)

// CurrentWindows is the billing window containing now plus its predecessor.
type CurrentWindows struct {
	CurrentKey          string    `json:"current_key"`
	CurrentStart        time.Time `json:"current_start"`
	CurrentEndExclusive time.Time `json:"current_end_exclusive"`
	PreviousKey         string    `json:"previous_key"`
	PreviousStart       time.Time `json:"previous_start"`
}

// PeriodWindow is the billing window named by a period key.
type PeriodWindow struct {
	Key                  string    `json:"key"`
	Start                time.Time `json:"start"`
	EndExclusive         time.Time `json:"end_exclusive"`
	PreviousKey          string    `json:"previous_key"`
	PreviousStart        time.Time `json:"previous_start"`
	PreviousEndExclusive time.Time `json:"previous_end_exclusive"`
}

// ClampAnchorDay bounds an anchor day to [1,31].
func ClampAnchorDay(anchorDay int) int {
	if anchorDay < MinAnchorDay {
		return MinAnchorDay
	}
	if anchorDay > MaxAnchorDay {
		return MaxAnchorDay
	}
	return anchorDay
}

// LoadLocation resolves name, then fallback, then a fixed UTC+9 zone.
func LoadLocation(name, fallback string) *time.Location {
	if name = strings.TrimSpace(name); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		if loc, err := time.LoadLocation(fallback); err == nil {
			return loc
		}
	}
	return time.FixedZone(fallbackZoneName, fallbackZoneOffset)
}

// AnchorDayFromCreatedAt derives the anchor from the local day an account was created.
func AnchorDayFromCreatedAt(createdAt time.Time, loc *time.Location) int {
	if createdAt.IsZero() {
		return MinAnchorDay
	}
	if loc == nil {
		loc = time.UTC
	}
	return ClampAnchorDay(createdAt.In(loc).Day())
}

// CurrentAndPreviousWindow returns the window containing now and the one before it.
func CurrentAndPreviousWindow(now time.Time, loc *time.Location, anchorDay int) (CurrentWindows, error) {
	if loc == nil {
		loc = time.UTC
	}
	anchorDay = ClampAnchorDay(anchorDay)

	local := now.In(loc)
	year, month := local.Year(), local.Month()
	start := anchorStart(year, month, anchorDay, loc)
	if start.After(now) {
		month--
		start = anchorStart(year, month, anchorDay, loc)
	}
	end := anchorStart(year, month+1, anchorDay, loc)
	previous := anchorStart(year, month-1, anchorDay, loc)

	if !end.After(start) || !start.After(previous) {
		return CurrentWindows{}, kpidomain.Inconsistent("window end %s not after start %s", end, start)
	}

	return CurrentWindows{
		CurrentKey:          start.Format(PeriodKeyLayout),
		CurrentStart:        start,
		CurrentEndExclusive: end,
		PreviousKey:         previous.Format(PeriodKeyLayout),
		PreviousStart:       previous,
	}, nil
}

// WindowForKey returns the billing window whose start falls in the month named by periodKey.
func WindowForKey(periodKey string, loc *time.Location, anchorDay int) (PeriodWindow, error) {
	if loc == nil {
		loc = time.UTC
	}
	year, month, err := ParsePeriodKey(periodKey)
	if err != nil {
		return PeriodWindow{}, err
	}
	anchorDay = ClampAnchorDay(anchorDay)

	start := anchorStart(year, month, anchorDay, loc)
	end := anchorStart(year, month+1, anchorDay, loc)
	previous := anchorStart(year, month-1, anchorDay, loc)

	if !end.After(start) || !start.After(previous) {
		return PeriodWindow{}, kpidomain.Inconsistent("window end %s not after start %s", end, start)
	}

	return PeriodWindow{
		Key:                  start.Format(PeriodKeyLayout),
		Start:                start,
		EndExclusive:         end,
		PreviousKey:          previous.Format(PeriodKeyLayout),
		PreviousStart:        previous,
		PreviousEndExclusive: start,
	}, nil
}

// UTCMonth is the calendar month periodKey names, in UTC. Contributions are
// keyed by UTC month so this is the range a period's events live in.
func UTCMonth(periodKey string) (time.Time, time.Time, error) {
	window, err := WindowForKey(periodKey, time.UTC, MinAnchorDay)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return window.Start, window.EndExclusive, nil
}

// ParsePeriodKey validates a YYYY-MM key.
func ParsePeriodKey(periodKey string) (int, time.Month, error) {
	periodKey = strings.TrimSpace(periodKey)
	if len(periodKey) != len(PeriodKeyLayout) {
		return 0, 0, fmt.Errorf("%w: %q", kpidomain.ErrInvalidPeriodKey, periodKey)
	}
	parsed, err := time.Parse(PeriodKeyLayout, periodKey)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", kpidomain.ErrInvalidPeriodKey, periodKey)
	}
	return parsed.Year(), parsed.Month(), nil
}

// anchorStart is the first instant of the effective anchor day of the given
// month. month may be out of range; it is normalized first.
func anchorStart(year int, month time.Month, anchorDay int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	year, month = first.Year(), first.Month()
	day := anchorDay
	if last := daysIn(year, month); day > last {
		day = last
	}
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if start.Day() != day {
		// Midnight was skipped by a DST jump; the day begins when the new zone does.
		_, start = start.ZoneBounds()
	}
	return start
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

package domain

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestCurrentWindowBeforeAndAfterAnchor(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")

	cases := []struct {
		name     string
		now      time.Time
		anchor   int
		current  string
		previous string
		startDay int
		endMonth time.Month
		endDay   int
	}{
		{name: "after_anchor", now: time.Date(2024, 5, 20, 12, 0, 0, 0, tokyo), anchor: 15, current: "2024-05", previous: "2024-04", startDay: 15, endMonth: time.June, endDay: 15},
		{name: "before_anchor", now: time.Date(2024, 5, 10, 12, 0, 0, 0, tokyo), anchor: 15, current: "2024-04", previous: "2024-03", startDay: 15, endMonth: time.May, endDay: 15},
		{name: "on_anchor_midnight", now: time.Date(2024, 5, 15, 0, 0, 0, 0, tokyo), anchor: 15, current: "2024-05", previous: "2024-04", startDay: 15, endMonth: time.June, endDay: 15},
		{name: "anchor_one", now: time.Date(2024, 1, 1, 0, 30, 0, 0, tokyo), anchor: 1, current: "2024-01", previous: "2023-12", startDay: 1, endMonth: time.February, endDay: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := CurrentAndPreviousWindow(tc.now, tokyo, tc.anchor)
			require.NoError(t, err)
			assert.Equal(t, tc.current, w.CurrentKey)
			assert.Equal(t, tc.previous, w.PreviousKey)
			assert.Equal(t, tc.startDay, w.CurrentStart.In(tokyo).Day())
			assert.Equal(t, tc.endMonth, w.CurrentEndExclusive.In(tokyo).Month())
			assert.Equal(t, tc.endDay, w.CurrentEndExclusive.In(tokyo).Day())
			assert.False(t, w.CurrentStart.After(tc.now))
			assert.True(t, tc.now.Before(w.CurrentEndExclusive))
		})
	}
}

func TestCurrentWindowUsesLocalDateNotUTC(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	// 2024-05-31T16:00Z is already June 1st in Tokyo.
	now := time.Date(2024, 5, 31, 16, 0, 0, 0, time.UTC)

	w, err := CurrentAndPreviousWindow(now, tokyo, 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-06", w.CurrentKey)
	assert.Equal(t, time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC), w.CurrentStart.UTC())
}

func TestAnchorClampedToMonthLength(t *testing.T) {
	cases := []struct {
		key      string
		startDay int
		endMonth time.Month
		endDay   int
	}{
		{key: "2024-01", startDay: 31, endMonth: time.February, endDay: 29},
		{key: "2024-02", startDay: 29, endMonth: time.March, endDay: 31},
		{key: "2023-02", startDay: 28, endMonth: time.March, endDay: 31},
		{key: "2024-04", startDay: 30, endMonth: time.May, endDay: 31},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			w, err := WindowForKey(tc.key, time.UTC, 31)
			require.NoError(t, err)
			assert.Equal(t, tc.startDay, w.Start.Day())
			assert.Equal(t, tc.endMonth, w.EndExclusive.Month())
			assert.Equal(t, tc.endDay, w.EndExclusive.Day())
		})
	}
}

func TestAnchorDayIsClamped(t *testing.T) {
	assert.Equal(t, 1, ClampAnchorDay(-4))
	assert.Equal(t, 1, ClampAnchorDay(0))
	assert.Equal(t, 31, ClampAnchorDay(45))

	low, err := WindowForKey("2024-03", time.UTC, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, low.Start.Day())

	high, err := WindowForKey("2024-04", time.UTC, 99)
	require.NoError(t, err)
	assert.Equal(t, 30, high.Start.Day())
}

func TestWindowsTile(t *testing.T) {
	locs := []*time.Location{time.UTC, mustLoad(t, "Asia/Tokyo"), mustLoad(t, "America/New_York"), mustLoad(t, "Europe/Berlin")}
	for _, loc := range locs {
		for anchor := 1; anchor <= 31; anchor += 3 {
			now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 30; i++ {
				w, err := CurrentAndPreviousWindow(now, loc, anchor)
				require.NoError(t, err)

				prev, err := WindowForKey(w.PreviousKey, loc, anchor)
				require.NoError(t, err)
				assert.True(t, prev.EndExclusive.Equal(w.CurrentStart), "%s anchor %d at %s", loc, anchor, now)
				assert.True(t, prev.Start.Equal(w.PreviousStart))

				cur, err := WindowForKey(w.CurrentKey, loc, anchor)
				require.NoError(t, err)
				assert.True(t, cur.Start.Equal(w.CurrentStart))
				assert.True(t, cur.EndExclusive.Equal(w.CurrentEndExclusive))
				assert.Equal(t, w.PreviousKey, cur.PreviousKey)

				now = now.Add(13*24*time.Hour + 7*time.Hour)
			}
		}
	}
}

func TestWindowBoundariesAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")

	w, err := WindowForKey("2024-03", ny, 1)
	require.NoError(t, err)
	// March starts in EST (-05:00) and ends in EDT (-04:00).
	assert.Equal(t, time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC), w.Start.UTC())
	assert.Equal(t, time.Date(2024, 4, 1, 4, 0, 0, 0, time.UTC), w.EndExclusive.UTC())
	assert.Equal(t, 31*24*time.Hour-time.Hour, w.EndExclusive.Sub(w.Start))

	nov, err := WindowForKey("2024-11", ny, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 1, 4, 0, 0, 0, time.UTC), nov.Start.UTC())
	assert.Equal(t, time.Date(2024, 12, 1, 5, 0, 0, 0, time.UTC), nov.EndExclusive.UTC())
}

func TestWindowStartsAfterSkippedMidnight(t *testing.T) {
	havana := mustLoad(t, "America/Havana")

	// Cuba moved clocks from 00:00 CST to 01:00 CDT on 2012-04-01.
	april, err := WindowForKey("2012-04", havana, 1)
	require.NoError(t, err)
	assert.Equal(t, "2012-04", april.Key)
	assert.Equal(t, time.Date(2012, 4, 1, 5, 0, 0, 0, time.UTC), april.Start.UTC())
	assert.Equal(t, 1, april.Start.In(havana).Day())

	march, err := WindowForKey("2012-03", havana, 1)
	require.NoError(t, err)
	assert.Equal(t, april.Start, march.EndExclusive)
	assert.Equal(t, april.Start, april.PreviousEndExclusive)

	cur, err := CurrentAndPreviousWindow(time.Date(2012, 4, 11, 4, 14, 0, 0, time.UTC), havana, 1)
	require.NoError(t, err)
	assert.Equal(t, "2012-04", cur.CurrentKey)
	assert.Equal(t, "2012-03", cur.PreviousKey)
	assert.Equal(t, april.Start, cur.CurrentStart)
}

func TestWindowsChainInMidnightDSTZones(t *testing.T) {
	zones := []string{"America/Havana", "America/Santiago", "America/Asuncion", "Asia/Beirut"}
	from := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, name := range zones {
		loc := mustLoad(t, name)
		for _, anchor := range []int{1, 2, 10, 15, 28, 31} {
			for now := from; now.Before(to); now = now.Add(71 * time.Hour) {
				cur, err := CurrentAndPreviousWindow(now, loc, anchor)
				require.NoError(t, err)
				require.False(t, now.Before(cur.CurrentStart), "%s anchor=%d now=%s", name, anchor, now)
				require.True(t, now.Before(cur.CurrentEndExclusive), "%s anchor=%d now=%s", name, anchor, now)

				keyed, err := WindowForKey(cur.CurrentKey, loc, anchor)
				require.NoError(t, err)
				require.Equal(t, cur.CurrentStart, keyed.Start, "%s anchor=%d now=%s", name, anchor, now)

				prev, err := WindowForKey(cur.PreviousKey, loc, anchor)
				require.NoError(t, err)
				require.Equal(t, cur.CurrentStart, prev.EndExclusive, "%s anchor=%d now=%s", name, anchor, now)
			}
		}
	}
}

func TestWindowForKeyRejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{"", "2024-1", "2024-13", "24-01", "2024/01", "2024-01-01"} {
		_, err := WindowForKey(key, time.UTC, 1)
		assert.True(t, errors.Is(err, kpidomain.ErrInvalidPeriodKey), key)
	}
}

func TestWindowForKeyPreviousAcrossYear(t *testing.T) {
	w, err := WindowForKey("2024-01", time.UTC, 10)
	require.NoError(t, err)
	assert.Equal(t, "2023-12", w.PreviousKey)
	assert.Equal(t, time.Date(2023, 12, 10, 0, 0, 0, 0, time.UTC), w.PreviousStart)
	assert.Equal(t, w.Start, w.PreviousEndExclusive)
}

func TestLoadLocationFallbacks(t *testing.T) {
	assert.Equal(t, "Asia/Tokyo", LoadLocation("Asia/Tokyo", "UTC").String())
	assert.Equal(t, "Asia/Tokyo", LoadLocation("Mars/Olympus", "Asia/Tokyo").String())
	assert.Equal(t, "Asia/Tokyo", LoadLocation("", "Asia/Tokyo").String())

	fixed := LoadLocation("Mars/Olympus", "Nowhere/Else")
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, fixed).Zone()
	assert.Equal(t, 9*3600, offset)
}

func TestAnchorDayFromCreatedAt(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	created := time.Date(2024, 3, 30, 20, 0, 0, 0, time.UTC) // 31st in Tokyo
	assert.Equal(t, 31, AnchorDayFromCreatedAt(created, tokyo))
	assert.Equal(t, 30, AnchorDayFromCreatedAt(created, time.UTC))
	assert.Equal(t, 1, AnchorDayFromCreatedAt(time.Time{}, tokyo))
}

func TestUTCMonth(t *testing.T) {
	start, end, err := UTCMonth("2024-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), end)
}

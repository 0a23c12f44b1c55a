package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayDropsDaysThatFloorToZero(t *testing.T) {
	s := Summary{
		OwnerID:   "user-a",
		PeriodKey: "2024-03",
		DailyBreakdown: []DailyEntry{
			{Date: "2024-03-04", Likes: 3, Reach: -1},
			{Date: "2024-03-05", Likes: -2},
			{Date: "2024-03-06"},
		},
		TotalLikes: -1,
		TotalReach: 10,
	}

	display := s.Display()
	require.Len(t, display.DailyBreakdown, 1)
	assert.Equal(t, DailyEntry{Date: "2024-03-04", Likes: 3}, display.DailyBreakdown[0])
	assert.Equal(t, int64(0), display.Totals.Likes)
	assert.Equal(t, int64(10), display.Totals.Reach)
	assert.True(t, display.Exists)

	// Storage keeps the negative day for later compensation.
	assert.Len(t, s.DailyBreakdown, 3)
	assert.Equal(t, int64(-2), s.DailyBreakdown[1].Likes)
}

func TestEmptyDisplayHasNoDays(t *testing.T) {
	display := EmptyDisplay(SummaryKey{OwnerID: "user-a", PeriodKey: "2024-03"})
	assert.False(t, display.Exists)
	assert.NotNil(t, display.DailyBreakdown)
	assert.Empty(t, display.DailyBreakdown)
}

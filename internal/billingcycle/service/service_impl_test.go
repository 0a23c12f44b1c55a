package service

import (
	"context"
	"testing"
	"time"

	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/clock"
	"github.com/mogcia-app/signal/internal/config"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/mogcia-app/signal/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "time/tzdata"
)

func newService(t *testing.T, now time.Time) *Service {
	t.Helper()
	db := dbtest.Open(t, &billingcycledomain.OwnerProfile{})
	holder, err := config.NewStaticKPIConfigHolder(config.DefaultKPIConfig())
	require.NoError(t, err)
	return New(ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(now),
		Config: holder,
	})
}

func TestGetProfileDefaults(t *testing.T) {
	svc := newService(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))

	p, err := svc.GetProfile(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, p.Stored)
	assert.Equal(t, "Asia/Tokyo", p.Timezone)
	assert.Equal(t, 1, p.AnchorDay)

	_, err = svc.GetProfile(context.Background(), " ")
	assert.ErrorIs(t, err, kpidomain.ErrOwnerRequired)
}

func TestUpsertProfileAndWindows(t *testing.T) {
	svc := newService(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	created := time.Date(2023, 1, 20, 18, 0, 0, 0, time.UTC) // 2023-01-21 in Tokyo
	p, err := svc.UpsertProfile(ctx, billingcycledomain.UpsertProfileRequest{OwnerID: "o1", AccountCreatedAt: &created})
	require.NoError(t, err)
	assert.True(t, p.Stored)
	assert.Equal(t, 21, p.AnchorDay)

	w, err := svc.CurrentWindows(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "2024-05", w.CurrentKey)
	assert.Equal(t, "2024-04", w.PreviousKey)

	tz := "America/New_York"
	anchor := 5
	p, err = svc.UpsertProfile(ctx, billingcycledomain.UpsertProfileRequest{OwnerID: "o1", Timezone: &tz, AnchorDay: &anchor})
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", p.Timezone)
	assert.Equal(t, 5, p.AnchorDay)
	require.NotNil(t, p.AccountCreatedAt)

	again, err := svc.GetProfile(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, p.Timezone, again.Timezone)
	assert.Equal(t, 5, again.AnchorDay)

	window, err := svc.WindowForKey(ctx, "o1", "2024-06")
	require.NoError(t, err)
	nyc, _ := time.LoadLocation("America/New_York")
	assert.True(t, window.Start.Equal(time.Date(2024, 6, 5, 0, 0, 0, 0, nyc)))
}

func TestUpsertProfileValidates(t *testing.T) {
	svc := newService(t, time.Now())
	ctx := context.Background()

	bad := "Mars/Olympus"
	_, err := svc.UpsertProfile(ctx, billingcycledomain.UpsertProfileRequest{OwnerID: "o1", Timezone: &bad})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidTimezone)

	anchor := 32
	_, err = svc.UpsertProfile(ctx, billingcycledomain.UpsertProfileRequest{OwnerID: "o1", AnchorDay: &anchor})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidAnchorDay)
}

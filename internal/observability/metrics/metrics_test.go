package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("op", "create"),
		attribute.String("owner_id", "456"),
		attribute.String("result", "ok"),
	)
	require.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("owner_id"), attr.Key)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordContribution(context.Background(), true)
	m.RecordLiveUpdate(context.Background(), "create", nil)
	m.RecordBackfill(context.Background(), 1, 1, false)
	m.RecordFeedMessage(context.Background(), "delete", errors.New("x"))
}

func TestRecordLiveUpdateExportsCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "signal-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordLiveUpdate(ctx, "create", nil)
	m.RecordLiveUpdate(ctx, "create", nil)
	m.RecordBackfill(ctx, 3, 0, false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[metric.Name] += point.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["signal_kpi_live_updates_total"])
	assert.Equal(t, int64(3), totals["signal_kpi_backfill_groups_total"])
}

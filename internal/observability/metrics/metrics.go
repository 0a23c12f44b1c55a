package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes KPI engine instruments.
type Metrics struct {
	contributions  metric.Int64Counter
	liveUpdates    metric.Int64Counter
	backfillGroups metric.Int64Counter
	backfillSkips  metric.Int64Counter
	feedMessages   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "signal"
	}
	meter := provider.Meter(name)

	contributions, err := meter.Int64Counter("signal_kpi_contributions_total",
		metric.WithDescription("Contributions extracted from raw events by outcome."))
	if err != nil {
		return nil, err
	}
	liveUpdates, err := meter.Int64Counter("signal_kpi_live_updates_total",
		metric.WithDescription("Live summary transitions by operation and result."))
	if err != nil {
		return nil, err
	}
	backfillGroups, err := meter.Int64Counter("signal_kpi_backfill_groups_total",
		metric.WithDescription("Summaries written by the reconciler."))
	if err != nil {
		return nil, err
	}
	backfillSkips, err := meter.Int64Counter("signal_kpi_backfill_skipped_total",
		metric.WithDescription("Raw events skipped by the reconciler."))
	if err != nil {
		return nil, err
	}
	feedMessages, err := meter.Int64Counter("signal_kpi_feed_messages_total",
		metric.WithDescription("Change-feed messages consumed by result."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		contributions:  contributions,
		liveUpdates:    liveUpdates,
		backfillGroups: backfillGroups,
		backfillSkips:  backfillSkips,
		feedMessages:   feedMessages,
	}, nil
}

// RecordContribution counts one extraction attempt.
func (m *Metrics) RecordContribution(ctx context.Context, accepted bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", resultLabel(accepted, "accepted", "skipped")))
	m.contributions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLiveUpdate counts one applied transition.
func (m *Metrics) RecordLiveUpdate(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("result", resultLabel(err == nil, "ok", "error")),
	)
	m.liveUpdates.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBackfill adds the outcome of one reconcile run.
func (m *Metrics) RecordBackfill(ctx context.Context, written, skipped int64, dryRun bool) {
	if m == nil {
		return
	}
	mode := resultLabel(dryRun, "dry_run", "commit")
	attrs := FilterAttributes(attribute.String("mode", mode))
	if written > 0 {
		m.backfillGroups.Add(ctx, written, metric.WithAttributes(attrs...))
	}
	if skipped > 0 {
		m.backfillSkips.Add(ctx, skipped, metric.WithAttributes(attrs...))
	}
}

// RecordFeedMessage counts one consumed change-feed record.
func (m *Metrics) RecordFeedMessage(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("result", resultLabel(err == nil, "ok", "error")),
	)
	m.feedMessages.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"op":          {},
	"result":      {},
	"mode":        {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

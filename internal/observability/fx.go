package observability

import (
	"github.com/mogcia-app/signal/internal/observability/logger"
	"github.com/mogcia-app/signal/internal/observability/metrics"
	"github.com/mogcia-app/signal/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(c Config) logger.Config { return c.Logger },
		func(c Config) tracing.Config { return c.Tracing },
		func(c Config) metrics.Config { return c.Metrics },
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(registerSchedulerMetrics),
)

// registerSchedulerMetrics binds the job collectors to the service labels
// before any job can reach the label-less default.
func registerSchedulerMetrics(c Config) {
	if c.SchedulerMetrics {
		metrics.SchedulerWithConfig(c.Metrics)
	}
}

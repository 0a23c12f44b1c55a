package observability

import (
	"strings"

	"github.com/mogcia-app/signal/internal/config"
	"github.com/mogcia-app/signal/internal/observability/logger"
	"github.com/mogcia-app/signal/internal/observability/metrics"
	"github.com/mogcia-app/signal/internal/observability/tracing"
)

const defaultServiceName = "signal"

// Config is the telemetry view of config.Config, split per signal.
type Config struct {
	ServiceName string
	// Debug enables verbose request logs and gin debug mode.
	Debug bool

	Logger  logger.Config
	Tracing tracing.Config
	Metrics metrics.Config

	SchedulerMetrics bool
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}
	env := strings.TrimSpace(cfg.Environment)
	version := strings.TrimSpace(cfg.AppVersion)
	tel := cfg.Telemetry
	debug := tel.LogLevel == "debug" || config.DevEnvironment(env)

	return Config{
		ServiceName: name,
		Debug:       debug,
		Logger: logger.Config{
			ServiceName:         name,
			Environment:         env,
			Version:             version,
			Level:               tel.LogLevel,
			Format:              tel.LogFormat,
			Debug:               debug,
			IncludeCaller:       true,
			IncludeStackOnError: debug,
		},
		Tracing: tracing.Config{
			Enabled:          tel.TracingEnabled,
			ServiceName:      name,
			ServiceVersion:   version,
			Environment:      env,
			ExporterEndpoint: tel.OTLPEndpoint,
			ExporterProtocol: tel.OTLPProtocol,
			SamplingRatio:    tel.TraceSamplingRatio,
		},
		Metrics: metrics.Config{
			Enabled:          tel.MetricsEnabled,
			ExporterEndpoint: tel.OTLPEndpoint,
			ExporterProtocol: tel.OTLPProtocol,
			ServiceName:      name,
			Environment:      env,
		},
		SchedulerMetrics: tel.SchedulerMetrics,
	}
}

// HTTPTracerName names the tracer used for inbound requests.
func (c Config) HTTPTracerName() string {
	return c.ServiceName + "/http"
}

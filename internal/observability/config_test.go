package observability

import (
	"testing"

	"github.com/mogcia-app/signal/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigSplitsTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     " ",
		Environment: "production",
		AppVersion:  "1.2.3",
		Telemetry: config.TelemetryConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			TracingEnabled:     false,
			MetricsEnabled:     true,
			OTLPEndpoint:       "collector:4318",
			OTLPProtocol:       "http",
			TraceSamplingRatio: 0.25,
			SchedulerMetrics:   true,
		},
	})

	assert.Equal(t, "signal", cfg.ServiceName)
	assert.Equal(t, "signal/http", cfg.HTTPTracerName())
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Logger.IncludeStackOnError)
	assert.Equal(t, "1.2.3", cfg.Logger.Version)

	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.25, cfg.Tracing.SamplingRatio)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "collector:4318", cfg.Metrics.ExporterEndpoint)
	assert.Equal(t, "http", cfg.Metrics.ExporterProtocol)
	assert.Equal(t, "production", cfg.Metrics.Environment)
}

func TestLoadConfigDebugFromLevelOrEnvironment(t *testing.T) {
	byLevel := LoadConfig(config.Config{Environment: "production", Telemetry: config.TelemetryConfig{LogLevel: "debug"}})
	assert.True(t, byLevel.Debug)
	assert.True(t, byLevel.Logger.Debug)

	byEnv := LoadConfig(config.Config{AppName: "kpi-api", Environment: "local"})
	assert.True(t, byEnv.Debug)
	assert.Equal(t, "kpi-api/http", byEnv.HTTPTracerName())
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadTelemetryFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTLP_PROTOCOL", "HTTP")
	t.Setenv("TRACING_ENABLED", "off")
	t.Setenv("TRACE_SAMPLING_RATIO", "0.5")
	t.Setenv("SCHEDULER_METRICS_ENABLED", "no")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("METRICS_ENABLED", "")

	tel := Load().Telemetry

	assert.Equal(t, "debug", tel.LogLevel)
	assert.Equal(t, "json", tel.LogFormat)
	assert.Equal(t, "http", tel.OTLPProtocol)
	assert.False(t, tel.TracingEnabled)
	assert.True(t, tel.MetricsEnabled)
	assert.Equal(t, 0.5, tel.TraceSamplingRatio)
	assert.False(t, tel.SchedulerMetrics)
}

func TestDevEnvironment(t *testing.T) {
	for _, env := range []string{"dev", " Development ", "local", "test"} {
		assert.True(t, DevEnvironment(env), env)
	}
	for _, env := range []string{"", "production", "staging"} {
		assert.False(t, DevEnvironment(env), env)
	}
}

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	SchedulerJobs []string

	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// TelemetryConfig drives logging, tracing and metric export.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	TracingEnabled     bool
	MetricsEnabled     bool
	OTLPEndpoint       string
	OTLPProtocol       string
	TraceSamplingRatio float64

	// SchedulerMetrics registers the prometheus job collectors at startup.
	SchedulerMetrics bool
}

// DevEnvironment reports whether env names a non-production deployment.
func DevEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// RateLimitConfig bounds how fast one owner may mutate analytics events.
// Limiting needs redis.
type RateLimitConfig struct {
	Enabled    bool
	OwnerRate  float64
	OwnerBurst int
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Group    string
	ClientID string
}

// Enabled reports whether the change-feed consumer should start.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && strings.TrimSpace(c.Topic) != ""
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "signal"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            int64(getenvInt("NODE_ID", 1)),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "signal"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "signal.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		SchedulerJobs:     splitList(getenv("SCHEDULER_JOBS", "")),
		Telemetry: TelemetryConfig{
			LogLevel:           strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:          strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			TracingEnabled:     getenvBool("TRACING_ENABLED", true),
			MetricsEnabled:     getenvBool("METRICS_ENABLED", true),
			OTLPEndpoint:       strings.TrimSpace(getenv("OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:       strings.ToLower(strings.TrimSpace(getenv("OTLP_PROTOCOL", "grpc"))),
			TraceSamplingRatio: getenvFloat("TRACE_SAMPLING_RATIO", 0.1),
			SchedulerMetrics:   getenvBool("SCHEDULER_METRICS_ENABLED", true),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getenvBool("RATE_LIMIT_ENABLED", false),
			OwnerRate:  getenvFloat("RATE_LIMIT_OWNER_RATE", 20),
			OwnerBurst: getenvInt("RATE_LIMIT_OWNER_BURST", 40),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(getenv("KAFKA_BROKERS", "")),
			Topic:    strings.TrimSpace(getenv("KAFKA_TOPIC", "analytics.events")),
			Group:    strings.TrimSpace(getenv("KAFKA_GROUP", "signal-kpi")),
			ClientID: strings.TrimSpace(getenv("KAFKA_CLIENT_ID", "signal-kpi")),
		},
	}

	return cfg
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the query API listens on (e.g. :18880).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the store DSN: a postgres:// URL or sqlite://path.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBMaxConns bounds concurrent store access; also the size of the connection pool.
	DBMaxConns int `mapstructure:"DB_MAX_CONNS"`
	// DBAcquireTimeout is how long a request waits for a pool slot before the store reports unavailable.
	DBAcquireTimeout string `mapstructure:"DB_ACQUIRE_TIMEOUT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, record and ingest events are emitted to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events (default pulseboard-telemetry).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// RateLimitRPS is the per-client write rate on POST endpoints; 0 disables limiting.
	RateLimitRPS int `mapstructure:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the limiter burst size.
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`

	// SourcesFile is the YAML file listing scrape sources for the ingest job.
	SourcesFile string `mapstructure:"SOURCES_FILE"`
	// IngestInterval is the period between ingest cycles (e.g. "15m").
	IngestInterval string `mapstructure:"INGEST_INTERVAL"`

	// ArtifactStorageType selects where adapters save failure artifacts: fs, s3 or gcs.
	ArtifactStorageType string `mapstructure:"ARTIFACT_STORAGE_TYPE"`
	// ArtifactDir is the base directory of the fs artifact store.
	ArtifactDir    string `mapstructure:"ARTIFACT_DIR"`
	ArtifactBucket string `mapstructure:"ARTIFACT_BUCKET"`
	ArtifactPrefix string `mapstructure:"ARTIFACT_PREFIX"`
	// ArtifactS3Region and ArtifactS3Endpoint apply to the s3 store; the endpoint is for MinIO/LocalStack.
	ArtifactS3Region   string `mapstructure:"ARTIFACT_S3_REGION"`
	ArtifactS3Endpoint string `mapstructure:"ARTIFACT_S3_ENDPOINT"`

	// PulseboardURL is the query API base URL used by pulsectl.
	PulseboardURL string `mapstructure:"PULSEBOARD_URL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":18880")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_ACQUIRE_TIMEOUT", "2s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "pulseboard")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "pulseboard-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "pulseboard-telemetry-worker")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("SOURCES_FILE", "sources.yml")
	v.SetDefault("INGEST_INTERVAL", "15m")
	v.SetDefault("ARTIFACT_STORAGE_TYPE", "fs")
	v.SetDefault("ARTIFACT_DIR", "screenshots")
	v.SetDefault("ARTIFACT_BUCKET", "")
	v.SetDefault("ARTIFACT_PREFIX", "")
	v.SetDefault("ARTIFACT_S3_REGION", "us-east-1")
	v.SetDefault("ARTIFACT_S3_ENDPOINT", "")
	v.SetDefault("PULSEBOARD_URL", "http://localhost:18880")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DBMaxConns <= 0 {
		return nil, errors.New("config: DB_MAX_CONNS must be positive")
	}
	if cfg.RateLimitRPS < 0 {
		return nil, errors.New("config: RATE_LIMIT_RPS must not be negative")
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		return nil, errors.New("config: RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	switch cfg.ArtifactStorageType {
	case "fs", "s3", "gcs":
	default:
		return nil, fmt.Errorf("config: ARTIFACT_STORAGE_TYPE must be fs, s3 or gcs, got %q", cfg.ArtifactStorageType)
	}
	if cfg.ArtifactStorageType != "fs" && cfg.ArtifactBucket == "" {
		return nil, fmt.Errorf("config: ARTIFACT_BUCKET is required for %s artifact storage", cfg.ArtifactStorageType)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AcquireTimeout parses DBAcquireTimeout as a time.Duration. Returns 2s if unset or invalid.
func (c *Config) AcquireTimeout() time.Duration {
	d, err := time.ParseDuration(c.DBAcquireTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// Interval parses IngestInterval as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.IngestInterval)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// CheckInterval rejects a non-positive ingest period, which the run loop cannot tick on.
func CheckInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %v", d)
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level. Load has already rejected unknown levels.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL %q is not one of debug, info, warn, error", s)
}

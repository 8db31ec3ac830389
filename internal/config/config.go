// Package config loads service configuration from the environment into an
// immutable struct handed to constructors at startup. Nothing reads the
// environment after Load returns.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the worker and the backfill
// CLI. Tenant-level knobs (min_valid_pixel_ratio, signals_enabled) live in
// the tenant_settings table, not here.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	KafkaBrokers           string `mapstructure:"KAFKA_BROKERS"`
	KafkaClientID          string `mapstructure:"KAFKA_CLIENT_ID"`
	KafkaSignalsTopic      string `mapstructure:"KAFKA_SIGNALS_TOPIC"`
	KafkaAlertsTopic       string `mapstructure:"KAFKA_ALERTS_TOPIC"`
	KafkaJobLifecycleTopic string `mapstructure:"KAFKA_JOB_LIFECYCLE_TOPIC"`

	WorkerConcurrency int `mapstructure:"WORKER_CONCURRENCY" validate:"min=1"`

	SignalsMinHistoryWeeks  int     `mapstructure:"SIGNALS_MIN_HISTORY_WEEKS" validate:"min=2"`
	SignalsScoreThreshold   float64 `mapstructure:"SIGNALS_SCORE_THRESHOLD" validate:"gte=0,lte=1"`
	SignalsChangeDetection  string  `mapstructure:"SIGNALS_CHANGE_DETECTION" validate:"oneof=BFastLike Simple"`
	SignalsPersistenceWeeks int     `mapstructure:"SIGNALS_PERSISTENCE_WEEKS" validate:"min=1"`

	PipelineVersion string `mapstructure:"PIPELINE_VERSION" validate:"required"`

	CatalogBaseURL string `mapstructure:"CATALOG_BASE_URL"`
	CatalogAPIKey  string `mapstructure:"CATALOG_API_KEY"`

	OtelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Brokers splits the comma-separated broker list.
func (c Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	return strings.Split(c.KafkaBrokers, ",")
}

func defaults(v *viper.Viper) {
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_CLIENT_ID", "croplens-worker")
	v.SetDefault("KAFKA_SIGNALS_TOPIC", "croplens.signals")
	v.SetDefault("KAFKA_ALERTS_TOPIC", "croplens.alerts")
	v.SetDefault("KAFKA_JOB_LIFECYCLE_TOPIC", "croplens.jobs")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("SIGNALS_MIN_HISTORY_WEEKS", 4)
	v.SetDefault("SIGNALS_SCORE_THRESHOLD", 0.5)
	v.SetDefault("SIGNALS_CHANGE_DETECTION", "BFastLike")
	v.SetDefault("SIGNALS_PERSISTENCE_WEEKS", 2)
	v.SetDefault("PIPELINE_VERSION", "v2.1")
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env vars through Unmarshal;
	// binding each key explicitly does.
	var cfg Config
	for _, key := range []string{
		"DATABASE_URL",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"KAFKA_BROKERS", "KAFKA_CLIENT_ID",
		"KAFKA_SIGNALS_TOPIC", "KAFKA_ALERTS_TOPIC", "KAFKA_JOB_LIFECYCLE_TOPIC",
		"WORKER_CONCURRENCY",
		"SIGNALS_MIN_HISTORY_WEEKS", "SIGNALS_SCORE_THRESHOLD",
		"SIGNALS_CHANGE_DETECTION", "SIGNALS_PERSISTENCE_WEEKS",
		"PIPELINE_VERSION",
		"CATALOG_BASE_URL", "CATALOG_API_KEY",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

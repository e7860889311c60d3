package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LerianStudio/lib-ledger/ledger"
)

// Config is read from the environment. Flags only describe the transfer.
type Config struct {
	EnvName  string `env:"ENV_NAME" validate:"omitempty,oneof=production staging development local"`
	LogLevel string `env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`

	OtelServiceName         string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelLibraryName         string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceVersion      string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv       string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelColExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" validate:"required_if=EnableTelemetry true"`
	EnableTelemetry         bool   `env:"ENABLE_TELEMETRY"`

	PrimaryDSN         string `env:"DB_PRIMARY_DSN" validate:"required"`
	ReplicaDSN         string `env:"DB_REPLICA_DSN"`
	DBName             string `env:"DB_NAME" validate:"required"`
	MaxOpenConnections int    `env:"DB_MAX_OPEN_CONNS" validate:"gte=0"`
	MaxIdleConnections int    `env:"DB_MAX_IDLE_CONNS" validate:"gte=0"`
	LockTimeoutMS      int    `env:"LOCK_TIMEOUT_MS" validate:"gte=0"`
	BeginTimeoutMS     int    `env:"BEGIN_TIMEOUT_MS" validate:"gte=0"`

	RedisAddr             string `env:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword         string `env:"REDIS_PASSWORD"`
	IdempotencyTTLSeconds int    `env:"IDEMPOTENCY_TTL_SECONDS" validate:"gte=0"`

	RabbitURI        string `env:"RABBITMQ_URI" validate:"omitempty,url"`
	RabbitExchange   string `env:"RABBITMQ_RECONCILIATION_EXCHANGE" validate:"required_with=RabbitURI"`
	RabbitRoutingKey string `env:"RABBITMQ_RECONCILIATION_ROUTING_KEY"`
}

var errInvalidConfig = errors.New("invalid configuration")

func loadConfig() (*Config, error) {
	cfg := &Config{}

	if err := ledger.SetConfigFromEnvVars(cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.EnvName == "" {
		c.EnvName = "local"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.OtelLibraryName == "" {
		c.OtelLibraryName = "github.com/LerianStudio/lib-ledger"
	}

	if c.OtelServiceName == "" {
		c.OtelServiceName = "transfer"
	}

	if c.RabbitRoutingKey == "" {
		c.RabbitRoutingKey = "transfer.reconciliation"
	}
}

func (c *Config) validate() error {
	vld := validator.New(validator.WithRequiredStructEnabled())

	err := vld.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}

	return fmt.Errorf("%w: %s", errInvalidConfig, strings.Join(msgs, ", "))
}

// production hides error text from logs, keeping only the error type.
func (c *Config) production() bool {
	return c.EnvName == "production"
}

func (c *Config) lockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c *Config) beginTimeout() time.Duration {
	return time.Duration(c.BeginTimeoutMS) * time.Millisecond
}

func (c *Config) idempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

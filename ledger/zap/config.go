package zap

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const callerSkipFrames = 1

// ErrMissingLibraryName is returned when Config.OTelLibraryName is blank.
var ErrMissingLibraryName = errors.New("OTelLibraryName is required")

// Environment controls the baseline logger profile.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentStaging     Environment = "staging"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

// Config contains all required logger initialization inputs.
type Config struct {
	Environment     Environment
	Level           string
	OTelLibraryName string
	// DisableOTelBridge keeps log entries out of the OpenTelemetry logs pipeline.
	DisableOTelBridge bool
}

func (c Config) validate() error {
	if strings.TrimSpace(c.OTelLibraryName) == "" {
		return ErrMissingLibraryName
	}

	switch c.Environment {
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment, EnvironmentLocal:
		return nil
	default:
		return fmt.Errorf("invalid environment %q", c.Environment)
	}
}

// New creates a structured JSON logger for the given environment.
func New(cfg Config) (*Logger, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid zap config: %w", err)
	}

	level, err := resolveLevel(cfg)
	if err != nil {
		return nil, err
	}

	base := zap.NewProductionConfig()
	if cfg.Environment == EnvironmentDevelopment || cfg.Environment == EnvironmentLocal {
		base = zap.NewDevelopmentConfig()
	}

	base.Encoding = "json"
	base.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	base.Level = level
	base.DisableStacktrace = true

	opts := []zap.Option{zap.AddCallerSkip(callerSkipFrames)}

	if !cfg.DisableOTelBridge {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, otelzap.NewCore(cfg.OTelLibraryName))
		}))
	}

	built, err := base.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{logger: built, atomicLevel: level}, nil
}

func resolveLevel(cfg Config) (zap.AtomicLevel, error) {
	if strings.TrimSpace(cfg.Level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(cfg.Level); err != nil {
			return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", cfg.Level, err)
		}

		return zap.NewAtomicLevelAt(parsed), nil
	}

	if cfg.Environment == EnvironmentDevelopment || cfg.Environment == EnvironmentLocal {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}

	return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
}

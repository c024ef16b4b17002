// Package config provides configuration loading for launchpad.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally layered over a YAML file (see LoadWithFile).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// minSigningKeyLen mirrors the token service requirement for HS256 keys.
const minSigningKeyLen = 32

// Config holds the complete launchpad configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Storage       StorageConfig       `koanf:"storage"`
	NATS          NATSConfig          `koanf:"nats"`
	Approval      ApprovalConfig      `koanf:"approval"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// StorageConfig selects the keyed store backing executions, workflows and projects.
type StorageConfig struct {
	Driver string `koanf:"driver"` // memory | sqlite
	Path   string `koanf:"path"`   // sqlite database file
}

// NATSConfig holds notification transport configuration.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ApprovalConfig holds human-approval workflow configuration.
type ApprovalConfig struct {
	SigningKey    Secret `koanf:"signing_key"`
	Issuer        string `koanf:"issuer"`
	BaseURL       string `koanf:"base_url"`
	SweepSchedule string `koanf:"sweep_schedule"`
}

// PipelineConfig holds orchestration tuning.
type PipelineConfig struct {
	MaxRevisionCycles int           `koanf:"max_revision_cycles"`
	StageMaxAttempts  int           `koanf:"stage_max_attempts"`
	BackoffBase       time.Duration `koanf:"backoff_base"`
}

// RateLimitConfig limits the unauthenticated token endpoints per client IP.
type RateLimitConfig struct {
	TokenRPS   float64 `koanf:"token_rps"`
	TokenBurst int     `koanf:"token_burst"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "launchpad",
			Endpoint:        "localhost:4317",
			LogLevel:        "info",
			LogFormat:       "json",
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
			Path:   "launchpad.db",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "launchpad.notify",
		},
		Approval: ApprovalConfig{
			Issuer:        "launchpad",
			BaseURL:       "http://localhost:9090/api/v1/approve",
			SweepSchedule: "@every 5m",
		},
		Pipeline: PipelineConfig{
			MaxRevisionCycles: 3,
			StageMaxAttempts:  3,
			BackoffBase:       time.Second,
		},
		RateLimit: RateLimitConfig{
			TokenRPS:   1,
			TokenBurst: 10,
		},
	}
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_HOST / SERVER_PORT / SERVER_SHUTDOWN_TIMEOUT
//   - OTEL_ENABLE, OTEL_SERVICE_NAME, OTEL_ENDPOINT
//   - LOG_LEVEL, LOG_FORMAT
//   - STORAGE_DRIVER (memory|sqlite), STORAGE_PATH
//   - NATS_ENABLED, NATS_URL, NATS_SUBJECT_PREFIX
//   - APPROVAL_SIGNING_KEY, APPROVAL_ISSUER, APPROVAL_BASE_URL, APPROVAL_SWEEP_SCHEDULE
//   - PIPELINE_MAX_REVISION_CYCLES, PIPELINE_STAGE_MAX_ATTEMPTS, PIPELINE_BACKOFF_BASE
//   - RATELIMIT_TOKEN_RPS, RATELIMIT_TOKEN_BURST
func Load() *Config {
	d := Defaults()
	return &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", d.Server.Host),
			Port:            getEnvInt("SERVER_PORT", d.Server.Port),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", d.Server.ShutdownTimeout),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", d.Observability.EnableTelemetry),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", d.Observability.ServiceName),
			Endpoint:        getEnvString("OTEL_ENDPOINT", d.Observability.Endpoint),
			LogLevel:        getEnvString("LOG_LEVEL", d.Observability.LogLevel),
			LogFormat:       getEnvString("LOG_FORMAT", d.Observability.LogFormat),
		},
		Storage: StorageConfig{
			Driver: getEnvString("STORAGE_DRIVER", d.Storage.Driver),
			Path:   getEnvString("STORAGE_PATH", d.Storage.Path),
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", d.NATS.Enabled),
			URL:           getEnvString("NATS_URL", d.NATS.URL),
			SubjectPrefix: getEnvString("NATS_SUBJECT_PREFIX", d.NATS.SubjectPrefix),
		},
		Approval: ApprovalConfig{
			SigningKey:    Secret(getEnvString("APPROVAL_SIGNING_KEY", "")),
			Issuer:        getEnvString("APPROVAL_ISSUER", d.Approval.Issuer),
			BaseURL:       getEnvString("APPROVAL_BASE_URL", d.Approval.BaseURL),
			SweepSchedule: getEnvString("APPROVAL_SWEEP_SCHEDULE", d.Approval.SweepSchedule),
		},
		Pipeline: PipelineConfig{
			MaxRevisionCycles: getEnvInt("PIPELINE_MAX_REVISION_CYCLES", d.Pipeline.MaxRevisionCycles),
			StageMaxAttempts:  getEnvInt("PIPELINE_STAGE_MAX_ATTEMPTS", d.Pipeline.StageMaxAttempts),
			BackoffBase:       getEnvDuration("PIPELINE_BACKOFF_BASE", d.Pipeline.BackoffBase),
		},
		RateLimit: RateLimitConfig{
			TokenRPS:   getEnvFloat("RATELIMIT_TOKEN_RPS", d.RateLimit.TokenRPS),
			TokenBurst: getEnvInt("RATELIMIT_TOKEN_BURST", d.RateLimit.TokenBurst),
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Service name is empty (when telemetry is enabled)
//   - Storage driver is unknown, or sqlite is selected without a path
//   - The approval signing key is shorter than 32 bytes
//   - Pipeline retry or revision limits are not positive
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage path required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (must be memory or sqlite)", c.Storage.Driver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	if len(c.Approval.SigningKey.Value()) < minSigningKeyLen {
		return fmt.Errorf("approval signing key must be at least %d bytes", minSigningKeyLen)
	}
	if c.Approval.Issuer == "" {
		return errors.New("approval issuer is required")
	}

	if c.Pipeline.MaxRevisionCycles < 1 {
		return errors.New("pipeline max revision cycles must be positive")
	}
	if c.Pipeline.StageMaxAttempts < 1 {
		return errors.New("pipeline stage max attempts must be positive")
	}
	if c.Pipeline.BackoffBase < 0 {
		return errors.New("pipeline backoff base cannot be negative")
	}

	if c.RateLimit.TokenRPS <= 0 || c.RateLimit.TokenBurst < 1 {
		return errors.New("token rate limit must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

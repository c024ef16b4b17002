package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		validate func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
				assert.False(t, cfg.Observability.EnableTelemetry)
				assert.Equal(t, "launchpad", cfg.Observability.ServiceName)
				assert.Equal(t, StorageMemory, cfg.Storage.Driver)
				assert.Equal(t, 3, cfg.Pipeline.MaxRevisionCycles)
				assert.Equal(t, 3, cfg.Pipeline.StageMaxAttempts)
				assert.Equal(t, time.Second, cfg.Pipeline.BackoffBase)
				assert.Equal(t, "@every 5m", cfg.Approval.SweepSchedule)
				assert.False(t, cfg.Approval.SigningKey.IsSet())
			},
		},
		{
			name: "environment variable overrides",
			env: map[string]string{
				"SERVER_PORT":                  "8081",
				"SERVER_SHUTDOWN_TIMEOUT":      "5s",
				"OTEL_SERVICE_NAME":            "lp-test",
				"STORAGE_DRIVER":               "sqlite",
				"STORAGE_PATH":                 "/tmp/lp.db",
				"APPROVAL_SIGNING_KEY":         testKey,
				"PIPELINE_MAX_REVISION_CYCLES": "5",
				"PIPELINE_BACKOFF_BASE":        "10ms",
				"RATELIMIT_TOKEN_RPS":          "2.5",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8081, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
				assert.Equal(t, "lp-test", cfg.Observability.ServiceName)
				assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
				assert.Equal(t, "/tmp/lp.db", cfg.Storage.Path)
				assert.Equal(t, testKey, cfg.Approval.SigningKey.Value())
				assert.Equal(t, 5, cfg.Pipeline.MaxRevisionCycles)
				assert.Equal(t, 10*time.Millisecond, cfg.Pipeline.BackoffBase)
				assert.Equal(t, 2.5, cfg.RateLimit.TokenRPS)
			},
		},
		{
			name: "invalid values fall back to defaults",
			env: map[string]string{
				"SERVER_PORT":           "not-a-number",
				"PIPELINE_BACKOFF_BASE": "soon",
				"NATS_ENABLED":          "maybe",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, time.Second, cfg.Pipeline.BackoffBase)
				assert.False(t, cfg.NATS.Enabled)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.validate(t, Load())
		})
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Approval.SigningKey = Secret(testKey)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port too low", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "invalid server port"},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "invalid server port"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }, wantErr: "shutdown timeout"},
		{
			name: "telemetry without service name",
			mutate: func(c *Config) {
				c.Observability.EnableTelemetry = true
				c.Observability.ServiceName = ""
			},
			wantErr: "service name",
		},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "unknown storage driver"},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageSQLite
				c.Storage.Path = ""
			},
			wantErr: "storage path",
		},
		{
			name: "nats without url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: "nats url",
		},
		{name: "short signing key", mutate: func(c *Config) { c.Approval.SigningKey = "short" }, wantErr: "signing key"},
		{name: "empty issuer", mutate: func(c *Config) { c.Approval.Issuer = "" }, wantErr: "issuer"},
		{name: "zero revision cycles", mutate: func(c *Config) { c.Pipeline.MaxRevisionCycles = 0 }, wantErr: "revision cycles"},
		{name: "zero attempts", mutate: func(c *Config) { c.Pipeline.StageMaxAttempts = 0 }, wantErr: "max attempts"},
		{name: "negative backoff", mutate: func(c *Config) { c.Pipeline.BackoffBase = -time.Second }, wantErr: "backoff"},
		{name: "zero burst", mutate: func(c *Config) { c.RateLimit.TokenBurst = 0 }, wantErr: "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should contain %q", err, tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret(testKey)

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, testKey, s.Value())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

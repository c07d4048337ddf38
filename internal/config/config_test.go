package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 250, cfg.CacheSize)
	assert.Equal(t, 25, cfg.BackfillDefault)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":              "8080",
		"HUB_URL":           "wss://hub.example.com/events",
		"HUB_READY_TIMEOUT": "3s",
		"DATABASE_DRIVER":   "postgres",
		"DATABASE_URL":      "postgres://localhost/notifier",
		"CACHE_SIZE":        "500",
		"NATS_URL":          "nats://localhost:4222",
		"RETENTION_MAX_AGE": "48h",
		"LOG_LEVEL":         "debug",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "wss://hub.example.com/events", cfg.HubURL)
	assert.Equal(t, 3*time.Second, cfg.HubReadyTimeout)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 500, cfg.CacheSize)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 48*time.Hour, cfg.RetentionMaxAge)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnvInvalidValues(t *testing.T) {
	tests := map[string]string{
		"PORT":              "abc",
		"CACHE_SIZE":        "1.5",
		"HUB_POLL_INTERVAL": "soon",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			err := Default().ApplyEnv(envMap(map[string]string{name: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 4000
hub_url: ws://hub.local:2283
hub_poll_interval: 250ms
backfill_max: 50
log_format: text
`), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "ws://hub.local:2283", cfg.HubURL)
	assert.Equal(t, 250*time.Millisecond, cfg.HubPollInterval)
	assert.Equal(t, 50, cfg.BackfillMax)
	assert.Equal(t, "text", cfg.LogFormat)
	// Untouched fields keep their defaults.
	assert.Equal(t, 250, cfg.CacheSize)
}

func TestLoadFileMissing(t *testing.T) {
	err := Default().LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.yml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\n"), 0o600))

	t.Setenv("NOTIFIER_CONFIG", path)
	t.Setenv("PORT", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"bad hub scheme", func(c *Config) { c.HubURL = "ftp://hub" }},
		{"bad driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"empty database url", func(c *Config) { c.DatabaseURL = "" }},
		{"zero cache", func(c *Config) { c.CacheSize = 0 }},
		{"inverted backfill", func(c *Config) { c.BackfillMin = 10; c.BackfillMax = 5 }},
		{"default outside bounds", func(c *Config) { c.BackfillDefault = 500 }},
		{"negative retention", func(c *Config) { c.RetentionMaxRows = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "text"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "key=value")
}

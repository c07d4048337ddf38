package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int `yaml:"port"`

	// HubURL is the hub endpoint: ws:// or wss:// for an event stream relay,
	// http:// or https:// for the hub HTTP API.
	HubURL string `yaml:"hub_url"`

	// HubReadyTimeout bounds the initial connection to the hub.
	HubReadyTimeout time.Duration `yaml:"hub_ready_timeout"`

	// HubPollInterval is how long the HTTP source waits after an empty page.
	HubPollInterval time.Duration `yaml:"hub_poll_interval"`

	// DatabaseDriver selects the event store: sqlite or postgres.
	DatabaseDriver string `yaml:"database_driver"`

	// DatabaseURL is the SQLite file path or the Postgres connection string.
	DatabaseURL string `yaml:"database_url"`

	// CacheSize is the number of recent events kept in memory.
	CacheSize int `yaml:"cache_size"`

	// Backfill bounds for newly connected subscribers.
	BackfillMin     int `yaml:"backfill_min"`
	BackfillMax     int `yaml:"backfill_max"`
	BackfillDefault int `yaml:"backfill_default"`

	// SessionQueueSize bounds the live events buffered per subscriber.
	SessionQueueSize int `yaml:"session_queue_size"`

	// NATSURL enables the event relay when set.
	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`

	// Retention limits for the durable store. Zero disables a limit.
	RetentionInterval time.Duration `yaml:"retention_interval"`
	RetentionMaxAge   time.Duration `yaml:"retention_max_age"`
	RetentionMaxRows  int           `yaml:"retention_max_rows"`

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, text
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:              3000,
		HubURL:            "http://localhost:2281",
		HubReadyTimeout:   10 * time.Second,
		HubPollInterval:   time.Second,
		DatabaseDriver:    "sqlite",
		DatabaseURL:       "notifier.db",
		CacheSize:         250,
		BackfillMin:       1,
		BackfillMax:       100,
		BackfillDefault:   25,
		SessionQueueSize:  256,
		NATSSubjectPrefix: "hub.events",
		RetentionInterval: time.Minute,
		RetentionMaxAge:   7 * 24 * time.Hour,
		RetentionMaxRows:  100000,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads configuration in order: defaults, the YAML file named by
// NOTIFIER_CONFIG (if any), then environment variables. The result is
// validated.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("NOTIFIER_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"PORT", &c.Port},
		{"CACHE_SIZE", &c.CacheSize},
		{"BACKFILL_MIN", &c.BackfillMin},
		{"BACKFILL_MAX", &c.BackfillMax},
		{"BACKFILL_DEFAULT", &c.BackfillDefault},
		{"SESSION_QUEUE_SIZE", &c.SessionQueueSize},
		{"RETENTION_MAX_ROWS", &c.RetentionMaxRows},
	}
	for _, v := range ints {
		if s := getenv(v.name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", v.name, err)
			}
			*v.dst = n
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"HUB_READY_TIMEOUT", &c.HubReadyTimeout},
		{"HUB_POLL_INTERVAL", &c.HubPollInterval},
		{"RETENTION_INTERVAL", &c.RetentionInterval},
		{"RETENTION_MAX_AGE", &c.RetentionMaxAge},
	}
	for _, v := range durations {
		if s := getenv(v.name); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", v.name, err)
			}
			*v.dst = d
		}
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"HUB_URL", &c.HubURL},
		{"DATABASE_DRIVER", &c.DatabaseDriver},
		{"DATABASE_URL", &c.DatabaseURL},
		{"NATS_URL", &c.NATSURL},
		{"NATS_SUBJECT_PREFIX", &c.NATSSubjectPrefix},
		{"LOG_LEVEL", &c.LogLevel},
		{"LOG_FORMAT", &c.LogFormat},
	}
	for _, v := range strs {
		if s := getenv(v.name); s != "" {
			*v.dst = s
		}
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	u, err := url.Parse(c.HubURL)
	if err != nil {
		return fmt.Errorf("invalid hub url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("hub url %q must use ws, wss, http or https", c.HubURL)
	}
	if c.HubReadyTimeout <= 0 {
		return fmt.Errorf("hub ready timeout must be positive")
	}

	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}

	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.BackfillMin < 1 || c.BackfillMax < c.BackfillMin {
		return fmt.Errorf("invalid backfill bounds [%d, %d]", c.BackfillMin, c.BackfillMax)
	}
	if c.BackfillDefault < c.BackfillMin || c.BackfillDefault > c.BackfillMax {
		return fmt.Errorf("backfill default %d outside [%d, %d]", c.BackfillDefault, c.BackfillMin, c.BackfillMax)
	}
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("session queue size must be positive")
	}
	if c.RetentionMaxAge < 0 || c.RetentionMaxRows < 0 {
		return fmt.Errorf("retention limits must not be negative")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", s)
	}
}

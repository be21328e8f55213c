// Package config defines the application configuration for the streaming
// subsystem: HTTP server, store collaborator, pub/sub core, pollers, and
// heartbeat. Configuration is loaded from a JSON file with a small set of
// environment overrides, and validated before use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
)

// Store driver constants
const (
	StoreDriverMemory   = "memory"   // In-process store (dev and tests)
	StoreDriverPostgres = "postgres" // PostgreSQL via pgx
)

// Duration is a time.Duration that accepts both JSON forms: a Go duration
// string ("5s", "1m30s") or a plain nanosecond count.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the value in Go duration notation
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON renders the duration in Go duration notation
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(v)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v: want a duration string or nanoseconds", raw)
	}
}

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Stream    StreamConfig    `json:"stream"`
	Poller    PollerConfig    `json:"poller"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// ServerConfig defines the HTTP listener and its paths
type ServerConfig struct {
	Addr        string `json:"addr"`         // e.g. ":8080"
	WSPath      string `json:"ws_path"`      // WebSocket upgrade path
	SSEPath     string `json:"sse_path"`     // SSE stream path
	MetricsPath string `json:"metrics_path"` // Prometheus exposition path
	HealthPath  string `json:"health_path"`  // Health endpoint path
}

// StoreConfig selects and configures the persistent store collaborator
type StoreConfig struct {
	Driver string `json:"driver"`        // "memory" or "postgres"
	DSN    string `json:"dsn,omitempty"` // Postgres connection string
}

// StreamConfig configures the pub/sub core
type StreamConfig struct {
	BufferCapacity  int      `json:"buffer_capacity"`  // Ring buffer size (default 1000)
	MaxEventAge     Duration `json:"max_event_age"`    // Purge events older than this (default 5m)
	PurgeInterval   Duration `json:"purge_interval"`   // Maintenance tick (default 60s)
	SubscriberQueue int      `json:"subscriber_queue"` // Per-subscriber channel capacity
}

// PollerConfig configures the per-category store pollers
type PollerConfig struct {
	InitialDelay      Duration `json:"initial_delay"`      // Delay before first poll
	MetricInterval    Duration `json:"metric_interval"`    // Metric/performance cadence
	AlertInterval     Duration `json:"alert_interval"`     // Alert cadence
	QualityInterval   Duration `json:"quality_interval"`   // Quality cadence
	EquipmentInterval Duration `json:"equipment_interval"` // Equipment cadence
	FetchLimit        int      `json:"fetch_limit"`        // Per-poll row cap
}

// HeartbeatConfig configures WebSocket liveness probing
type HeartbeatConfig struct {
	Interval Duration `json:"interval"` // Heartbeat tick (default 30s)
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			WSPath:      "/ws",
			SSEPath:     "/events",
			MetricsPath: "/metrics",
			HealthPath:  "/healthz",
		},
		Store: StoreConfig{
			Driver: StoreDriverMemory,
		},
		Stream: StreamConfig{
			BufferCapacity:  1000,
			MaxEventAge:     Duration(5 * time.Minute),
			PurgeInterval:   Duration(60 * time.Second),
			SubscriberQueue: 256,
		},
		Poller: PollerConfig{
			InitialDelay:      Duration(3 * time.Second),
			MetricInterval:    Duration(5 * time.Second),
			AlertInterval:     Duration(3 * time.Second),
			QualityInterval:   Duration(10 * time.Second),
			EquipmentInterval: Duration(15 * time.Second),
			FetchLimit:        10,
		},
		Heartbeat: HeartbeatConfig{
			Interval: Duration(30 * time.Second),
		},
	}
}

// Load reads configuration from a JSON file, merging over defaults and
// applying environment overrides. An empty path returns defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides
func (c *Config) applyEnv() {
	if v := os.Getenv("STREAMD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STREAMD_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("STREAMD_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "server.addr")
	}
	if c.Server.WSPath == "" || c.Server.WSPath[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("server.ws_path %q must start with /", c.Server.WSPath))
	}
	if c.Server.SSEPath == "" || c.Server.SSEPath[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("server.sse_path %q must start with /", c.Server.SSEPath))
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"store.dsn is required for the postgres driver")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Stream.BufferCapacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"stream.buffer_capacity must be positive")
	}
	if c.Stream.MaxEventAge <= 0 || c.Stream.PurgeInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"stream.max_event_age and stream.purge_interval must be positive")
	}
	if c.Stream.SubscriberQueue <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"stream.subscriber_queue must be positive")
	}

	for name, d := range map[string]Duration{
		"poller.metric_interval":    c.Poller.MetricInterval,
		"poller.alert_interval":     c.Poller.AlertInterval,
		"poller.quality_interval":   c.Poller.QualityInterval,
		"poller.equipment_interval": c.Poller.EquipmentInterval,
	} {
		if d <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.Poller.FetchLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"poller.fetch_limit must be positive")
	}
	if c.Poller.InitialDelay < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"poller.initial_delay must not be negative")
	}

	if c.Heartbeat.Interval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"heartbeat.interval must be positive")
	}

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Stream.BufferCapacity)
	assert.Equal(t, 5*time.Minute, cfg.Stream.MaxEventAge.Std())
	assert.Equal(t, 60*time.Second, cfg.Stream.PurgeInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval.Std())
	assert.Equal(t, 5*time.Second, cfg.Poller.MetricInterval.Std())
	assert.Equal(t, 3*time.Second, cfg.Poller.AlertInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.Poller.QualityInterval.Std())
	assert.Equal(t, 15*time.Second, cfg.Poller.EquipmentInterval.Std())
	assert.Equal(t, "/ws", cfg.Server.WSPath)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server": {"addr": ":9999", "ws_path": "/ws", "sse_path": "/events", "metrics_path": "/metrics", "health_path": "/healthz"}, "stream": {"buffer_capacity": 50, "max_event_age": 60000000000, "purge_interval": 10000000000, "subscriber_queue": 16}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Stream.BufferCapacity)
	assert.Equal(t, time.Minute, cfg.Stream.MaxEventAge.Std())
	// Sections absent from the file keep defaults
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval.Std())
}

func TestLoadAcceptsDurationStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"stream": {"max_event_age": "1m", "purge_interval": "10s"},
		"poller": {"metric_interval": "2s", "initial_delay": "500ms"},
		"heartbeat": {"interval": "45s"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Stream.MaxEventAge.Std())
	assert.Equal(t, 10*time.Second, cfg.Stream.PurgeInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.Poller.MetricInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Poller.InitialDelay.Std())
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.Interval.Std())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"heartbeat": {"interval": "soon"}}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STREAMD_ADDR", ":7070")
	t.Setenv("STREAMD_STORE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"ws path without slash", func(c *Config) { c.Server.WSPath = "ws" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StoreDriverPostgres; c.Store.DSN = "" }},
		{"zero capacity", func(c *Config) { c.Stream.BufferCapacity = 0 }},
		{"zero purge interval", func(c *Config) { c.Stream.PurgeInterval = 0 }},
		{"zero subscriber queue", func(c *Config) { c.Stream.SubscriberQueue = 0 }},
		{"zero alert interval", func(c *Config) { c.Poller.AlertInterval = 0 }},
		{"zero fetch limit", func(c *Config) { c.Poller.FetchLimit = 0 }},
		{"negative initial delay", func(c *Config) { c.Poller.InitialDelay = Duration(-time.Second) }},
		{"zero heartbeat", func(c *Config) { c.Heartbeat.Interval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

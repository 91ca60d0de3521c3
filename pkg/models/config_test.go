package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Notifications.Duration)
	assert.Equal(t, 2*time.Second, cfg.Tracker.RefreshDelay)
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "relative base url",
			mutate:  func(c *Config) { c.API.BaseURL = "localhost:8080/api" },
			wantMsg: "api.base_url",
		},
		{
			name:    "non http scheme",
			mutate:  func(c *Config) { c.API.BaseURL = "ftp://example.com" },
			wantMsg: "scheme must be http or https",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Tracker.PollInterval = 0 },
			wantMsg: "tracker.poll_interval",
		},
		{
			name:    "zero notification duration",
			mutate:  func(c *Config) { c.Notifications.Duration = 0 },
			wantMsg: "notifications.duration",
		},
		{
			name:    "rate limit without burst",
			mutate:  func(c *Config) { c.API.RateLimit = 5; c.API.Burst = 0 },
			wantMsg: "api.burst",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantMsg: "logging.format",
		},
		{
			name:    "metrics without address",
			mutate:  func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" },
			wantMsg: "metrics.addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			cfg := DefaultConfig()
			cfg.API.BaseURL = "https://lotus.internal:9443"
			cfg.Tracker.PollInterval = 750 * time.Millisecond
			require.NoError(t, cfg.Save(path))

			loaded := &Config{}
			require.NoError(t, loaded.Load(path))
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestConfig_SaveRefusesInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracker.PollInterval = -time.Second
	err := cfg.Save(filepath.Join(t.TempDir(), "config.yaml"))
	assert.Error(t, err)
}

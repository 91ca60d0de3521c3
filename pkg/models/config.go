package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API           APIConfig          `yaml:"api" json:"api"`
	Tracker       TrackerConfig      `yaml:"tracker" json:"tracker"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig      `yaml:"metrics" json:"metrics"`
}

type APIConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	RateLimit  float64       `yaml:"rate_limit" json:"rate_limit"`
	Burst      int           `yaml:"burst" json:"burst"`
	MinVersion string        `yaml:"min_version" json:"min_version"`
}

type TrackerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	RefreshDelay    time.Duration `yaml:"refresh_delay" json:"refresh_delay"`
	DefaultScanType string        `yaml:"default_scan_type" json:"default_scan_type"`
}

type NotificationConfig struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "http://127.0.0.1:8080",
			Timeout:    10 * time.Second,
			RateLimit:  0,
			Burst:      1,
			MinVersion: "0.1.0",
		},
		Tracker: TrackerConfig{
			PollInterval:    time.Second,
			RefreshDelay:    2 * time.Second,
			DefaultScanType: string(ScanTypeOSINT),
		},
		Notifications: NotificationConfig{
			Duration: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url must not be empty")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "api.base_url must be an absolute http(s) URL")
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, "api.base_url scheme must be http or https")
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, "api.timeout must be > 0")
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, "api.rate_limit must be >= 0")
	}
	if c.API.RateLimit > 0 && c.API.Burst <= 0 {
		errs = append(errs, "api.burst must be > 0 when api.rate_limit is set")
	}

	if c.Tracker.PollInterval <= 0 {
		errs = append(errs, "tracker.poll_interval must be > 0")
	}
	if c.Tracker.RefreshDelay < 0 {
		errs = append(errs, "tracker.refresh_delay must be >= 0")
	}
	if strings.TrimSpace(c.Tracker.DefaultScanType) == "" {
		errs = append(errs, "tracker.default_scan_type must not be empty")
	}

	if c.Notifications.Duration <= 0 {
		errs = append(errs, "notifications.duration must be > 0")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "logging.level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}
	if c.Logging.MaxSize < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAge < 0 {
		errs = append(errs, "logging.{max_size,max_backups,max_age} must be >= 0")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr must be set when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			if err2 := json.Unmarshal(data, c); err2 != nil {
				return fmt.Errorf("parse config (yaml/json): %v | %v", err, err2)
			}
		}
	}

	return c.Validate()
}

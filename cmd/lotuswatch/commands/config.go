package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/lotuswatch/internal/jobclient"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

// Version is reported in the User-Agent header and by the version command.
var Version = "dev"

const requestTimeout = 15 * time.Second

// SetDefaults seeds viper with models.DefaultConfig so flags, env and the
// config file only override what they mention.
func SetDefaults() {
	d := models.DefaultConfig()
	viper.SetDefault("quiet", false)
	viper.SetDefault("api.base_url", d.API.BaseURL)
	viper.SetDefault("api.timeout", d.API.Timeout)
	viper.SetDefault("api.rate_limit", d.API.RateLimit)
	viper.SetDefault("api.burst", d.API.Burst)
	viper.SetDefault("api.min_version", d.API.MinVersion)
	viper.SetDefault("tracker.poll_interval", d.Tracker.PollInterval)
	viper.SetDefault("tracker.refresh_delay", d.Tracker.RefreshDelay)
	viper.SetDefault("tracker.default_scan_type", d.Tracker.DefaultScanType)
	viper.SetDefault("notifications.duration", d.Notifications.Duration)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("logging.file", d.Logging.File)
	viper.SetDefault("logging.max_size", d.Logging.MaxSize)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.max_age", d.Logging.MaxAge)
	viper.SetDefault("logging.compress", d.Logging.Compress)
	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.addr", d.Metrics.Addr)
}

// LoadConfig reads the effective configuration out of viper and validates it.
func LoadConfig() (*models.Config, error) {
	cfg := &models.Config{
		API: models.APIConfig{
			BaseURL:    viper.GetString("api.base_url"),
			Timeout:    viper.GetDuration("api.timeout"),
			RateLimit:  viper.GetFloat64("api.rate_limit"),
			Burst:      viper.GetInt("api.burst"),
			MinVersion: viper.GetString("api.min_version"),
		},
		Tracker: models.TrackerConfig{
			PollInterval:    viper.GetDuration("tracker.poll_interval"),
			RefreshDelay:    viper.GetDuration("tracker.refresh_delay"),
			DefaultScanType: viper.GetString("tracker.default_scan_type"),
		},
		Notifications: models.NotificationConfig{
			Duration: viper.GetDuration("notifications.duration"),
		},
		Logging: models.LoggingConfig{
			Level:      viper.GetString("logging.level"),
			Format:     viper.GetString("logging.format"),
			File:       viper.GetString("logging.file"),
			MaxSize:    viper.GetInt("logging.max_size"),
			MaxBackups: viper.GetInt("logging.max_backups"),
			MaxAge:     viper.GetInt("logging.max_age"),
			Compress:   viper.GetBool("logging.compress"),
		},
		Metrics: models.MetricsConfig{
			Enabled: viper.GetBool("metrics.enabled"),
			Addr:    viper.GetString("metrics.addr"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newClient(cfg *models.Config, metrics *utils.MetricsCollector) (*jobclient.Client, error) {
	return jobclient.New(cfg.API.BaseURL, jobclient.Options{
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		UserAgent: "lotuswatch/" + Version,
		Metrics:   metrics,
		Logger:    logrus.StandardLogger(),
	})
}

// clientFromViper is the common prologue of the one-shot commands.
func clientFromViper() (*jobclient.Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return newClient(cfg, nil)
}

// startMetrics serves /metrics until ctx is done. It returns nil when metrics
// are disabled.
func startMetrics(ctx context.Context, cfg *models.Config) *utils.MetricsCollector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	mc := utils.NewMetricsCollector(true)
	if err := mc.RegisterDefaults(); err != nil {
		logrus.Warnf("Failed to register metrics: %v", err)
		return nil
	}
	go func() {
		if err := mc.StartServerWithContext(ctx, cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Warnf("Metrics endpoint stopped: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on http://%s/metrics", cfg.Metrics.Addr)
	return mc
}

// checkBackend warns when the job service is older than configured. It never
// fails the command.
func checkBackend(ctx context.Context, client *jobclient.Client, minVersion string) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	h, err := client.CheckCompatibility(ctx, minVersion)
	switch {
	case errors.Is(err, jobclient.ErrIncompatibleBackend):
		logrus.Warnf("Job service %s: %v", client.BaseURL(), err)
	case err != nil:
		logrus.Debugf("Health check against %s failed: %v", client.BaseURL(), err)
	default:
		logrus.Debugf("Connected to %s %s (%s)", emptyIf(h.Name, "job service"), h.Version, h.Status)
	}
}

func emptyIf(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func describeRequestError(err error) error {
	var re *jobclient.RequestError
	if errors.As(err, &re) && re.StatusCode == 0 {
		return fmt.Errorf("%w (is the job service running at %s?)", err, viper.GetString("api.base_url"))
	}
	return err
}

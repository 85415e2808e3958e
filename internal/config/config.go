// Package config loads process settings from LOGIQ_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/versalogiq/logiq/internal/driver"
	"github.com/versalogiq/logiq/internal/hostsession"
)

// Prefix is the environment variable prefix.
const Prefix = "LOGIQ"

type Settings struct {
	Listen        string `envconfig:"LISTEN" default:"127.0.0.1:5000"`
	CatalogPath   string `envconfig:"CATALOG" default:"config/server_flavors.json"`
	InventoryPath string `envconfig:"INVENTORY" default:"config/servers.yaml"`

	// Logging
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogDir        string `envconfig:"LOG_DIR" default:"logs"`
	LogToFile     bool   `envconfig:"LOG_TO_FILE" default:"false"`
	LogJSON       bool   `envconfig:"LOG_JSON" default:"false"`
	ActivityLog   string `envconfig:"ACTIVITY_LOG" default:"logs/logiq.log"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`

	// Session timings
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	ElevateTimeout time.Duration `envconfig:"ELEVATE_TIMEOUT" default:"10s"`
	BannerDelay    time.Duration `envconfig:"BANNER_DELAY" default:"1s"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"200ms"`
	SettleDelay    time.Duration `envconfig:"SETTLE_DELAY" default:"1500ms"`
	SudoSettle     time.Duration `envconfig:"SUDO_SETTLE" default:"3s"`
	TailTimeout    time.Duration `envconfig:"TAIL_TIMEOUT" default:"20s"`
	ScanTimeout    time.Duration `envconfig:"SCAN_TIMEOUT" default:"15s"`
	SkipVerify     bool          `envconfig:"SKIP_VERIFY" default:"false"`

	// Log discovery
	DiscoveryRoot    string   `envconfig:"DISCOVERY_ROOT" default:"/var/log"`
	ExcludeMarkers   []string `envconfig:"EXCLUDE_MARKERS" default:".gz"`
	DefaultTailLines int      `envconfig:"TAIL_LINES" default:"250"`

	// Bulk checks
	Workers int `envconfig:"WORKERS" default:"10"`
}

// Load reads settings from the environment.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the session cannot work with.
func (s *Settings) Validate() error {
	switch {
	case s.ConnectTimeout <= 0:
		return fmt.Errorf("%s_CONNECT_TIMEOUT must be positive", Prefix)
	case s.ElevateTimeout <= 0:
		return fmt.Errorf("%s_ELEVATE_TIMEOUT must be positive", Prefix)
	case s.PollInterval <= 0:
		return fmt.Errorf("%s_POLL_INTERVAL must be positive", Prefix)
	case s.DefaultTailLines <= 0:
		return fmt.Errorf("%s_TAIL_LINES must be positive", Prefix)
	case s.Workers <= 0:
		return fmt.Errorf("%s_WORKERS must be positive", Prefix)
	}
	return nil
}

// SessionOptions converts the settings into host session options.
func (s *Settings) SessionOptions() hostsession.Options {
	o := hostsession.DefaultOptions()
	o.ConnectTimeout = s.ConnectTimeout
	o.ElevateTimeout = s.ElevateTimeout
	o.BannerDelay = s.BannerDelay
	o.TailTimeout = s.TailTimeout
	o.DiscoveryTimeout = s.ScanTimeout
	o.SkipVerify = s.SkipVerify
	o.DiscoveryRoot = s.DiscoveryRoot
	o.ExcludeMarkers = append([]string(nil), s.ExcludeMarkers...)
	o.DefaultTailLines = s.DefaultTailLines

	d := driver.DefaultOptions()
	d.PollInterval = s.PollInterval
	d.SettleDelay = s.SettleDelay
	d.SudoSettle = s.SudoSettle
	o.Driver = d
	return o
}

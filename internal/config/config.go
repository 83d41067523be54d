// Package config holds the immutable engine settings. Settings are
// constructed and validated once at startup and passed explicitly to every
// component.
package config

import (
	"fmt"
	"io/fs"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values mirror the tracker's production configuration.
const (
	DefaultMaxRows           = 300
	DefaultWorksheetName     = "tasks"
	DefaultCacheTTL          = 5 * time.Minute
	DefaultReconcileInterval = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultRetryBaseDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultFlushRatePerSec   = 1.0
)

var spreadsheetURLRegexp = regexp.MustCompile(`^https://docs\.google\.com/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// Settings is the validated, immutable engine configuration.
type Settings struct {
	// SpreadsheetID identifies the remote spreadsheet. A full document URL is
	// accepted and reduced to its ID.
	SpreadsheetID string
	// WorksheetName is the worksheet (tab) holding the task rows.
	WorksheetName string
	// MaxRows bounds every sheet fetch.
	MaxRows int
	// CacheTTL bounds the lifetime of cache entries.
	CacheTTL time.Duration
	// FlushRatePerSec throttles all sheet calls in aggregate.
	FlushRatePerSec float64
	// MaxAttempts bounds flush retries before a task is marked failed.
	MaxAttempts int
	// RetryBaseDelay is the first backoff interval; doubled per attempt with
	// jitter, capped at RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// ReconcileInterval is the period of the full-refresh reconciliation.
	ReconcileInterval time.Duration
	// DBPath is the SQLite database file for the durable store and queue.
	DBPath string
	// RedisAddr enables the Redis cache adapter when set; empty selects the
	// in-process memory cache.
	RedisAddr string
}

// Defaults fills unset optional fields.
func (s *Settings) Defaults() {
	if s.WorksheetName == "" {
		s.WorksheetName = DefaultWorksheetName
	}
	if s.MaxRows == 0 {
		s.MaxRows = DefaultMaxRows
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = DefaultCacheTTL
	}
	if s.FlushRatePerSec == 0 {
		s.FlushRatePerSec = DefaultFlushRatePerSec
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.RetryBaseDelay == 0 {
		s.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if s.RetryMaxDelay == 0 {
		s.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if s.ReconcileInterval == 0 {
		s.ReconcileInterval = DefaultReconcileInterval
	}
}

// Validate checks the settings and normalizes the spreadsheet ID.
func (s *Settings) Validate() error {
	if s.SpreadsheetID == "" {
		return fmt.Errorf("spreadsheet id is required")
	}
	if m := spreadsheetURLRegexp.FindStringSubmatch(s.SpreadsheetID); m != nil {
		s.SpreadsheetID = m[1]
	}
	if s.MaxRows <= 0 {
		return fmt.Errorf("max rows must be positive, got %d", s.MaxRows)
	}
	if s.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", s.CacheTTL)
	}
	if s.FlushRatePerSec <= 0 {
		return fmt.Errorf("flush rate must be positive, got %f", s.FlushRatePerSec)
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", s.MaxAttempts)
	}
	if s.RetryBaseDelay <= 0 || s.RetryMaxDelay < s.RetryBaseDelay {
		return fmt.Errorf("invalid retry delays: base=%s max=%s", s.RetryBaseDelay, s.RetryMaxDelay)
	}
	if s.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", s.ReconcileInterval)
	}
	if s.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	return nil
}

// settingsYAML is the on-disk YAML structure for settings.
type settingsYAML struct {
	SpreadsheetID     string  `yaml:"spreadsheet_id"`
	WorksheetName     string  `yaml:"worksheet_name"`
	MaxRows           int     `yaml:"max_rows"`
	CacheTTL          string  `yaml:"cache_ttl"`
	FlushRatePerSec   float64 `yaml:"flush_rate_per_sec"`
	MaxAttempts       int     `yaml:"max_attempts"`
	RetryBaseDelay    string  `yaml:"retry_base_delay"`
	RetryMaxDelay     string  `yaml:"retry_max_delay"`
	ReconcileInterval string  `yaml:"reconcile_interval"`
	DBPath            string  `yaml:"db_path"`
	RedisAddr         string  `yaml:"redis_addr"`
}

// LoadFile loads settings from a YAML file, applies defaults and validates.
func LoadFile(filesystem fs.FS, path string) (*Settings, error) {
	data, err := fs.ReadFile(filesystem, path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, err
	}

	s.Defaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return s, nil
}

// Parse decodes YAML settings without applying defaults or validating. The
// caller can fill environment-specific fields (like the database path) before
// validation.
func Parse(data []byte) (*Settings, error) {
	var y settingsYAML
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	s := &Settings{
		SpreadsheetID:   y.SpreadsheetID,
		WorksheetName:   y.WorksheetName,
		MaxRows:         y.MaxRows,
		FlushRatePerSec: y.FlushRatePerSec,
		MaxAttempts:     y.MaxAttempts,
		DBPath:          y.DBPath,
		RedisAddr:       y.RedisAddr,
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{y.CacheTTL, &s.CacheTTL},
		{y.RetryBaseDelay, &s.RetryBaseDelay},
		{y.RetryMaxDelay, &s.RetryMaxDelay},
		{y.ReconcileInterval, &s.ReconcileInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}

	return s, nil
}

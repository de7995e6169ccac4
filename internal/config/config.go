package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the energydash service.
type Config struct {
	Server  Server  `yaml:"server"`
	Region  Region  `yaml:"region"`
	Sources Sources `yaml:"sources"`
	Cache   Cache   `yaml:"cache"`
	Refresh Refresh `yaml:"refresh"`
	Logging Logging `yaml:"logging"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Region selects the dashboard's display timezone.
type Region struct {
	Timezone string `yaml:"timezone"`
}

// Sources holds upstream endpoints and normalization knobs.
type Sources struct {
	ForecastURL string `yaml:"forecast_url"`
	LiveURL     string `yaml:"live_url"`
	// JitterPercent bounds the multiplicative jitter applied to forecast
	// prices (redistribution compliance). 0 disables it.
	JitterPercent   float64 `yaml:"jitter_percent"`
	RateLimitPerMin int     `yaml:"rate_limit_per_min"`
}

// Cache bounds the fetch layer's response cache. The TTL fields hold
// "5m"-style duration strings; the parsed values live alongside them and
// are filled in during Load.
type Cache struct {
	MaxEntries     int    `yaml:"max_entries"`
	LiveTTLRaw     string `yaml:"live_ttl"`
	ForecastTTLRaw string `yaml:"forecast_ttl"`

	LiveTTL     time.Duration `yaml:"-"`
	ForecastTTL time.Duration `yaml:"-"`
}

// Refresh controls the periodic live-feed refresh and control debouncing.
type Refresh struct {
	Interval    string `yaml:"interval"` // cron spec, e.g. "@every 10m"
	DebounceRaw string `yaml:"debounce"`

	Debounce time.Duration `yaml:"-"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, applies environment variable overrides, and fills in
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORECAST_URL"); v != "" {
		cfg.Sources.ForecastURL = v
	}
	if v := os.Getenv("LIVE_URL"); v != "" {
		cfg.Sources.LiveURL = v
	}
	if v := os.Getenv("DASH_TIMEZONE"); v != "" {
		cfg.Region.Timezone = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Region.Timezone == "" {
		cfg.Region.Timezone = "Europe/Amsterdam"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 50
	}
	cfg.Cache.LiveTTL = parseDuration(cfg.Cache.LiveTTLRaw, 5*time.Minute)
	// The forecast is refreshed by the build pipeline roughly daily; one
	// fetch per load.
	cfg.Cache.ForecastTTL = parseDuration(cfg.Cache.ForecastTTLRaw, 24*time.Hour)
	if cfg.Refresh.Interval == "" {
		cfg.Refresh.Interval = "@every 10m"
	}
	cfg.Refresh.Debounce = parseDuration(cfg.Refresh.DebounceRaw, 500*time.Millisecond)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// parseDuration parses a "90s"-style duration string, falling back to def
// when the string is empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Sources.ForecastURL == "" {
		return fmt.Errorf("sources.forecast_url is required")
	}
	if c.Sources.LiveURL == "" {
		return fmt.Errorf("sources.live_url is required")
	}
	if c.Sources.JitterPercent < 0 {
		return fmt.Errorf("sources.jitter_percent must not be negative")
	}
	return nil
}

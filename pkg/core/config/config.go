// Package config loads runtime configuration: a YAML file for tunables,
// environment variables for secrets and deployment overrides, and an HJSON
// watchlist of tracked tickers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full runtime configuration. YAML fields load first; matching
// environment variables override them.
type Config struct {
	// UserAgent identifies this client to the SEC. Required by their fair
	// access policy; requests without it get rejected.
	UserAgent string `yaml:"user_agent"`

	// DatabaseURL selects Postgres state storage when set. Empty falls back
	// to JSON files under StateDir.
	DatabaseURL string `yaml:"database_url"`
	StateDir    string `yaml:"state_dir"`

	// WatchlistPath points at the HJSON watchlist of tracked tickers.
	WatchlistPath string `yaml:"watchlist_path"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestTimeoutSec int     `yaml:"request_timeout_sec"`

	// DefaultFilingTarget is how many market filings a plain sync covers.
	DefaultFilingTarget int `yaml:"default_filing_target"`
	// DefaultLookbackDays bounds entity syncs with no explicit window.
	DefaultLookbackDays int `yaml:"default_lookback_days"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		UserAgent:           "insidertrack/1.0 (contact@example.com)",
		StateDir:            "state",
		WatchlistPath:       "config/watchlist.hjson",
		RequestsPerSecond:   10,
		MaxRetries:          3,
		RequestTimeoutSec:   10,
		DefaultFilingTarget: 200,
		DefaultLookbackDays: 90,
		ListenAddr:          ":8080",
		LogLevel:            "info",
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Load reads the YAML file at path (missing file is fine, defaults apply)
// and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SEC_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("WATCHLIST_PATH"); v != "" {
		cfg.WatchlistPath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FILING_TARGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultFilingTarget = n
		}
	}
	if v := os.Getenv("LOOKBACK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultLookbackDays = n
		}
	}
}

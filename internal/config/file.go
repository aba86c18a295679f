package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// tomlLimits mirrors the 'limits' table of the config file. All durations
// are expressed in seconds, matching the deployment records this format
// descends from.
type tomlLimits struct {
	CacheDuration    int `toml:"cache_duration"`
	CacheDurationMin int `toml:"cache_duration_min"`
	CacheDurationMax int `toml:"cache_duration_max"`
	Timeout          int `toml:"timeout"`
	MaxFeeds         int `toml:"max_feeds"`
	MaxCategories    int `toml:"max_categories"`
}

// tomlConfig represents the top-level configuration file.
type tomlConfig struct {
	DBPath          string     `toml:"db_path"`
	Host            string     `toml:"host"`
	Port            int        `toml:"port"`
	BaseURL         string     `toml:"base_url"`
	AuthMode        string     `toml:"auth_mode"`
	APIKey          string     `toml:"api_key"`
	ParallelRefresh int        `toml:"parallel_refresh"`
	IntervalMinutes int        `toml:"interval_minutes"`
	RetentionDays   int        `toml:"retention_days"`
	PushEnabled     *bool      `toml:"push_enabled"`
	TrustedProxies  []string   `toml:"trusted_proxies"`
	LogLevel        string     `toml:"log_level"`
	Limits          tomlLimits `toml:"limits"`
}

// LoadFile overlays settings from a TOML file onto cfg. Absent keys keep
// their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var file tomlConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if file.DBPath != "" {
		cfg.DBPath = file.DBPath
	}
	if file.Host != "" {
		cfg.ServerHost = file.Host
	}
	if file.Port != 0 {
		cfg.ServerPort = file.Port
	}
	if file.BaseURL != "" {
		cfg.BaseURL = file.BaseURL
	}
	if file.AuthMode != "" {
		cfg.AuthMode = AuthMode(file.AuthMode)
	}
	if file.APIKey != "" {
		cfg.APIKey = file.APIKey
	}
	if file.ParallelRefresh > 0 {
		cfg.Parallelism = file.ParallelRefresh
	}
	if file.IntervalMinutes > 0 {
		cfg.Interval = time.Duration(file.IntervalMinutes) * time.Minute
	}
	if file.RetentionDays > 0 {
		cfg.RetentionDays = file.RetentionDays
	}
	if file.PushEnabled != nil {
		cfg.PushEnabled = *file.PushEnabled
	}
	if len(file.TrustedProxies) > 0 {
		cfg.TrustedProxies = file.TrustedProxies
	}
	if file.LogLevel != "" {
		if level, err := zerolog.ParseLevel(file.LogLevel); err == nil {
			cfg.LogLevel = level
		}
	}

	if file.Limits.CacheDuration > 0 {
		cfg.CacheDuration = time.Duration(file.Limits.CacheDuration) * time.Second
	}
	if file.Limits.CacheDurationMin > 0 {
		cfg.CacheDurationMin = time.Duration(file.Limits.CacheDurationMin) * time.Second
	}
	if file.Limits.CacheDurationMax > 0 {
		cfg.CacheDurationMax = time.Duration(file.Limits.CacheDurationMax) * time.Second
	}
	if file.Limits.Timeout > 0 {
		cfg.FetchTimeout = time.Duration(file.Limits.Timeout) * time.Second
	}
	if file.Limits.MaxFeeds > 0 {
		cfg.MaxFeeds = file.Limits.MaxFeeds
	}
	if file.Limits.MaxCategories > 0 {
		cfg.MaxCategories = file.Limits.MaxCategories
	}

	return nil
}

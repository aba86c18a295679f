package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
)

// AuthMode selects how the deployment authenticates users. The refresh core
// never authenticates anyone itself; the mode only drives which middleware
// the ops server installs.
type AuthMode string

const (
	AuthForm AuthMode = "form"
	AuthHTTP AuthMode = "http"
	AuthNone AuthMode = "none"
)

// Config holds all configuration for the application. It is built once at
// process start and treated as immutable afterwards.
type Config struct {
	// File paths
	DBPath       string
	FeedsCSVPath string

	// Server settings
	ServerHost string
	ServerPort int
	BaseURL    string // Public base URL used to build push callback URLs
	AuthMode   AuthMode
	APIKey     string

	// Refresh settings
	Parallelism      int
	FetchTimeout     time.Duration
	CacheDuration    time.Duration
	CacheDurationMin time.Duration
	CacheDurationMax time.Duration
	MaxRedirects     int
	MaxBodyBytes     int64
	MaxEntries       int
	ErrorThreshold   int
	Interval         time.Duration
	CycleTimeout     time.Duration
	RetentionDays    int

	// Install ceilings
	MaxFeeds      int
	MaxCategories int

	// Push settings
	PushEnabled      bool
	PushLeaseSeconds int
	TrustedProxies   []string

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults,
// overridable by environment variables.
func DefaultConfig() *Config {
	cfg := &Config{
		DBPath:       DefaultDBPath,
		FeedsCSVPath: DefaultFeedsCSVPath,

		ServerHost: DefaultServerHost,
		ServerPort: DefaultServerPort,
		AuthMode:   AuthMode(DefaultAuthMode),

		Parallelism:      DefaultParallelism,
		FetchTimeout:     DefaultFetchTimeoutSecs * time.Second,
		CacheDuration:    DefaultCacheDurationSecs * time.Second,
		CacheDurationMin: DefaultCacheDurationMinSecs * time.Second,
		CacheDurationMax: DefaultCacheDurationMaxSecs * time.Second,
		MaxRedirects:     DefaultMaxRedirects,
		MaxBodyBytes:     DefaultMaxBodyBytes,
		MaxEntries:       DefaultMaxEntries,
		ErrorThreshold:   DefaultErrorThreshold,
		Interval:         DefaultInterval * time.Minute,
		CycleTimeout:     DefaultCycleTimeout * time.Minute,
		RetentionDays:    DefaultRetentionDays,

		MaxFeeds:      DefaultMaxFeeds,
		MaxCategories: DefaultMaxCategories,

		PushEnabled:      DefaultPushEnabled,
		PushLeaseSeconds: DefaultPushLeaseSeconds,
		TrustedProxies:   DefaultTrustedProxies,

		LogLevel: mustLevel(DefaultLogLevel),
	}
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays FEEDHUB_* environment variables onto the current values.
// Callers that load a config file apply it again afterwards, so the layering
// is defaults, then file, then environment, then flags.
func (c *Config) ApplyEnv() {
	c.DBPath = GetEnvString("FEEDHUB_DB_PATH", c.DBPath)
	c.FeedsCSVPath = GetEnvString("FEEDHUB_CSV_PATH", c.FeedsCSVPath)

	c.ServerHost = GetEnvString("FEEDHUB_HOST", c.ServerHost)
	c.ServerPort = GetEnvInt("FEEDHUB_PORT", c.ServerPort)
	c.BaseURL = GetEnvString("FEEDHUB_BASE_URL", c.BaseURL)
	c.AuthMode = AuthMode(GetEnvString("FEEDHUB_AUTH_MODE", string(c.AuthMode)))
	c.APIKey = GetEnvString("FEEDHUB_API_KEY", c.APIKey)

	c.Parallelism = GetEnvInt("FEEDHUB_PARALLELISM", c.Parallelism)
	c.FetchTimeout = GetEnvDuration("FEEDHUB_FETCH_TIMEOUT", c.FetchTimeout)
	c.CacheDuration = GetEnvDuration("FEEDHUB_CACHE_DURATION", c.CacheDuration)
	c.CacheDurationMin = GetEnvDuration("FEEDHUB_CACHE_DURATION_MIN", c.CacheDurationMin)
	c.CacheDurationMax = GetEnvDuration("FEEDHUB_CACHE_DURATION_MAX", c.CacheDurationMax)
	c.ErrorThreshold = GetEnvInt("FEEDHUB_ERROR_THRESHOLD", c.ErrorThreshold)
	c.Interval = GetEnvDuration("FEEDHUB_INTERVAL", c.Interval)
	c.RetentionDays = GetEnvInt("FEEDHUB_RETENTION_DAYS", c.RetentionDays)

	c.MaxFeeds = GetEnvInt("FEEDHUB_MAX_FEEDS", c.MaxFeeds)
	c.MaxCategories = GetEnvInt("FEEDHUB_MAX_CATEGORIES", c.MaxCategories)

	c.PushEnabled = GetEnvBool("FEEDHUB_PUSH_ENABLED", c.PushEnabled)
	c.PushLeaseSeconds = GetEnvInt("FEEDHUB_PUSH_LEASE_SECONDS", c.PushLeaseSeconds)

	c.LogLevel = GetEnvLogLevel("FEEDHUB_LOG_LEVEL", c.LogLevel)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthForm, AuthHTTP, AuthNone:
	default:
		return fmt.Errorf("invalid auth mode %q (want form, http or none)", c.AuthMode)
	}
	if c.CacheDurationMin > c.CacheDurationMax {
		return fmt.Errorf("cache_duration_min (%s) exceeds cache_duration_max (%s)",
			c.CacheDurationMin, c.CacheDurationMax)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if _, err := c.TrustedNetworks(); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// TrustedNetworks parses the trusted proxy CIDR list.
func (c *Config) TrustedNetworks() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, cidr := range c.TrustedProxies {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

func mustLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

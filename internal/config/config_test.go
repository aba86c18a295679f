package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Parallelism)
	assert.Equal(t, 800*time.Second, cfg.CacheDuration)
	assert.Equal(t, 60*time.Second, cfg.CacheDurationMin)
	assert.Equal(t, 86400*time.Second, cfg.CacheDurationMax)
	assert.Equal(t, 20*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 131072, cfg.MaxFeeds)
	assert.Equal(t, 16384, cfg.MaxCategories)
	assert.Equal(t, AuthForm, cfg.AuthMode)
	assert.True(t, cfg.PushEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultConfigEnvOverrides(t *testing.T) {
	t.Setenv("FEEDHUB_PARALLELISM", "4")
	t.Setenv("FEEDHUB_CACHE_DURATION", "1200")
	t.Setenv("FEEDHUB_FETCH_TIMEOUT", "30s")
	t.Setenv("FEEDHUB_PUSH_ENABLED", "false")
	t.Setenv("FEEDHUB_AUTH_MODE", "none")

	cfg := DefaultConfig()

	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 1200*time.Second, cfg.CacheDuration, "bare numbers are seconds")
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout, "unit suffixes are honored")
	assert.False(t, cfg.PushEnabled)
	assert.Equal(t, AuthNone, cfg.AuthMode)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := DefaultConfig()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "bad auth mode",
			mutate:  func(c *Config) { c.AuthMode = "ldap" },
			wantErr: "invalid auth mode",
		},
		{
			name: "min above max",
			mutate: func(c *Config) {
				c.CacheDurationMin = time.Hour
				c.CacheDurationMax = time.Minute
			},
			wantErr: "cache_duration_min",
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *Config) { c.Parallelism = 0 },
			wantErr: "parallelism",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.FetchTimeout = 0 },
			wantErr: "fetch timeout",
		},
		{
			name:    "bad trusted proxy",
			mutate:  func(c *Config) { c.TrustedProxies = []string{"not-a-cidr"} },
			wantErr: "invalid trusted proxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTrustedNetworks(t *testing.T) {
	cfg := DefaultConfig()

	prefixes, err := cfg.TrustedNetworks()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "127.0.0.0/8", prefixes[0].String())
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{ServerHost: "", ServerPort: 8080}
	assert.Equal(t, ":8080", cfg.ListenAddr())

	cfg.ServerHost = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
}

func TestLoadFile(t *testing.T) {
	const fileContent = `
db_path = "/var/lib/feedhub/feedhub.db"
port = 9090
auth_mode = "http"
push_enabled = false
trusted_proxies = ["10.0.0.0/8"]
log_level = "warn"

[limits]
cache_duration = 1600
cache_duration_min = 120
timeout = 10
max_feeds = 5000
`
	path := filepath.Join(t.TempDir(), "feedhub.toml")
	require.NoError(t, os.WriteFile(path, []byte(fileContent), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, LoadFile(cfg, path))

	assert.Equal(t, "/var/lib/feedhub/feedhub.db", cfg.DBPath)
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, AuthHTTP, cfg.AuthMode)
	assert.False(t, cfg.PushEnabled)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel)
	assert.Equal(t, 1600*time.Second, cfg.CacheDuration)
	assert.Equal(t, 120*time.Second, cfg.CacheDurationMin)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5000, cfg.MaxFeeds)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 10, cfg.Parallelism)
	assert.Equal(t, 86400*time.Second, cfg.CacheDurationMax)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	const fileContent = `
parallel_refresh = 7
retention_days = 14
`
	path := filepath.Join(t.TempDir(), "feedhub.toml")
	require.NoError(t, os.WriteFile(path, []byte(fileContent), 0o644))

	t.Setenv("FEEDHUB_PARALLELISM", "3")

	cfg := DefaultConfig()
	require.NoError(t, LoadFile(cfg, path))
	cfg.ApplyEnv()

	assert.Equal(t, 3, cfg.Parallelism, "the environment beats the file")
	assert.Equal(t, 14, cfg.RetentionDays, "the file beats the defaults")
}

func TestLoadFileErrors(t *testing.T) {
	cfg := DefaultConfig()

	assert.Error(t, LoadFile(cfg, filepath.Join(t.TempDir(), "missing.toml")))

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("this = [is not toml"), 0o644))
	assert.Error(t, LoadFile(cfg, path))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("FEEDHUB_TEST_DUR", "90")
	assert.Equal(t, 90*time.Second, GetEnvDuration("FEEDHUB_TEST_DUR", time.Minute))

	t.Setenv("FEEDHUB_TEST_DUR", "5m")
	assert.Equal(t, 5*time.Minute, GetEnvDuration("FEEDHUB_TEST_DUR", time.Minute))

	t.Setenv("FEEDHUB_TEST_DUR", "garbage")
	assert.Equal(t, time.Minute, GetEnvDuration("FEEDHUB_TEST_DUR", time.Minute))

	assert.Equal(t, time.Minute, GetEnvDuration("FEEDHUB_TEST_DUR_UNSET", time.Minute))
}

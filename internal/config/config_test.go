package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDurationTextRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("72h")))
	assert.Equal(t, 72*time.Hour, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "72h0m0s", string(text))

	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
database_path = "/var/lib/transparencyd/checkstate.db"

[service]
base_url = "https://kt.example.org"
timeout = "10s"

[check]
interval = "48h"
tick = "5m"
jitter_factor = 0.2
conservative_failure_reset = false

[logging]
level = "debug"
format = "json"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/transparencyd/checkstate.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "https://kt.example.org", cfg.Service.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Service.Timeout.Std())
	assert.Equal(t, 48*time.Hour, cfg.Check.Interval.Std())
	assert.Equal(t, 5*time.Minute, cfg.Check.Tick.Std())
	assert.Equal(t, 0.2, cfg.Check.JitterFactor)
	assert.False(t, cfg.Check.ConservativeFailureReset)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Unset fields keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Check.BaseRetryDelay.Std())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  database_path: /tmp/kt.db
check:
  interval: 24h
logging:
  level: warn
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kt.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 24*time.Hour, cfg.Check.Interval.Std())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.Check.Interval.Std())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Storage.DatabasePath = "" }},
		{"zero interval", func(c *Config) { c.Check.Interval = 0 }},
		{"zero tick", func(c *Config) { c.Check.Tick = 0 }},
		{"zero base retry delay", func(c *Config) { c.Check.BaseRetryDelay = 0 }},
		{"max below base", func(c *Config) {
			c.Check.BaseRetryDelay = Duration(time.Minute)
			c.Check.MaxRetryDelay = Duration(time.Second)
		}},
		{"jitter out of range", func(c *Config) { c.Check.JitterFactor = 1.5 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"file output without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.File = ""
		}},
		{"health enabled without listen", func(c *Config) {
			c.Health.Enabled = true
			c.Health.Listen = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRANSPARENCYD_DB_PATH", "/override/kt.db")
	t.Setenv("TRANSPARENCYD_SERVICE_URL", "https://kt.override.example")
	t.Setenv("TRANSPARENCYD_LOG_LEVEL", "error")
	t.Setenv("TRANSPARENCYD_CHECK_INTERVAL", "12h")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/override/kt.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "https://kt.override.example", cfg.Service.BaseURL)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 12*time.Hour, cfg.Check.Interval.Std())
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	write := func(level string) {
		require.NoError(t, os.WriteFile(path, []byte(`
[logging]
level = "`+level+`"
`), 0o600))
	}
	write("info")

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())
	defer l.Close()

	write("debug")

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
	assert.Equal(t, "debug", l.Config().Logging.Level)
}

func TestWatcherKeepsPreviousOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[logging]
level = "info"
`), 0o600))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte(`level = `), 0o600))

	// Give the debounced reload a chance to run, then confirm the previous
	// config survived.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, "info", l.Config().Logging.Level)
}

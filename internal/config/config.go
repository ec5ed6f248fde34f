// Package config handles configuration loading and validation for
// transparencyd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Duration wraps time.Duration so config files can use "30s" / "72h" forms
// in both TOML and YAML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the complete daemon configuration.
type Config struct {
	// Storage configures persistence.
	Storage StorageConfig `toml:"storage" yaml:"storage"`

	// Service configures the transparency frontend endpoint.
	Service ServiceConfig `toml:"service" yaml:"service"`

	// Check tunes scheduling and retry behavior.
	Check CheckConfig `toml:"check" yaml:"check"`

	// Account points at the local account material.
	Account AccountConfig `toml:"account" yaml:"account"`

	// Logging configures log output.
	Logging LoggingConfig `toml:"logging" yaml:"logging"`

	// Health configures the health endpoint.
	Health HealthConfig `toml:"health" yaml:"health"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DatabasePath is the SQLite database location.
	DatabasePath string `toml:"database_path" yaml:"database_path"`
}

// ServiceConfig holds transparency frontend settings.
type ServiceConfig struct {
	// BaseURL of the transparency frontend.
	BaseURL string `toml:"base_url" yaml:"base_url"`

	// Timeout per round trip.
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// CheckConfig tunes the check engine.
type CheckConfig struct {
	// Interval between scheduled self-checks.
	Interval Duration `toml:"interval" yaml:"interval"`

	// Tick is how often the scheduler wakes up to evaluate due-ness.
	Tick Duration `toml:"tick" yaml:"tick"`

	// BaseRetryDelay seeds the transient-failure backoff.
	BaseRetryDelay Duration `toml:"base_retry_delay" yaml:"base_retry_delay"`

	// MaxRetryDelay caps the transient-failure backoff.
	MaxRetryDelay Duration `toml:"max_retry_delay" yaml:"max_retry_delay"`

	// JitterFactor shortens the due interval by up to this fraction.
	JitterFactor float64 `toml:"jitter_factor" yaml:"jitter_factor"`

	// ConservativeFailureReset keeps the warned state on the escalation
	// ladder after a post-warning failure instead of clearing it.
	ConservativeFailureReset bool `toml:"conservative_failure_reset" yaml:"conservative_failure_reset"`
}

// AccountConfig points at local account material.
type AccountConfig struct {
	// Path to the local account file (TOML) holding the account id, phone
	// number, identity key and username hash.
	Path string `toml:"path" yaml:"path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Output string `toml:"output" yaml:"output"`
	File   string `toml:"file" yaml:"file"`
}

// HealthConfig holds health endpoint settings.
type HealthConfig struct {
	// Enabled turns the HTTP health endpoint on.
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// Listen is the address for the health endpoint.
	Listen string `toml:"listen" yaml:"listen"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: defaultDatabasePath(),
		},
		Service: ServiceConfig{
			Timeout: Duration(30 * time.Second),
		},
		Check: CheckConfig{
			Interval:                 Duration(72 * time.Hour),
			Tick:                     Duration(15 * time.Minute),
			BaseRetryDelay:           Duration(2 * time.Second),
			MaxRetryDelay:            Duration(5 * time.Minute),
			JitterFactor:             0.1,
			ConservativeFailureReset: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Health: HealthConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8791",
		},
	}
}

// defaultDatabasePath returns the platform default database location.
func defaultDatabasePath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		homeDir, _ := os.UserHomeDir()
		stateHome = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateHome, "transparencyd", "checkstate.db")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("storage.database_path must be set"))
	}
	if c.Check.Interval <= 0 {
		errs = append(errs, errors.New("check.interval must be positive"))
	}
	if c.Check.Tick <= 0 {
		errs = append(errs, errors.New("check.tick must be positive"))
	}
	if c.Check.BaseRetryDelay <= 0 {
		errs = append(errs, errors.New("check.base_retry_delay must be positive"))
	}
	if c.Check.MaxRetryDelay < c.Check.BaseRetryDelay {
		errs = append(errs, errors.New("check.max_retry_delay must be >= check.base_retry_delay"))
	}
	if c.Check.JitterFactor < 0 || c.Check.JitterFactor >= 1 {
		errs = append(errs, errors.New("check.jitter_factor must be in [0, 1)"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not a known level", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not a known format", c.Logging.Format))
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		errs = append(errs, errors.New("logging.file must be set when logging.output is \"file\""))
	}
	if c.Health.Enabled && c.Health.Listen == "" {
		errs = append(errs, errors.New("health.listen must be set when health.enabled is true"))
	}

	return errors.Join(errs...)
}

// ApplyEnvOverrides applies TRANSPARENCYD_* environment overrides on top of
// file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TRANSPARENCYD_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("TRANSPARENCYD_SERVICE_URL"); v != "" {
		c.Service.BaseURL = v
	}
	if v := os.Getenv("TRANSPARENCYD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TRANSPARENCYD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TRANSPARENCYD_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Check.Interval = Duration(d)
		}
	}
}

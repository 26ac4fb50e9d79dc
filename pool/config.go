package pool

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/logger"
	"github.com/shrek82/dbutil/settings"
)

// ErrInvalidConfig is returned for pool parameters that cannot be used.
var ErrInvalidConfig = errors.New("dbutil: invalid pool config")

// Defaults for unset pool parameters.
const (
	DefaultMinimumIdle       = 5
	DefaultMaximumPoolSize   = 10
	DefaultConnectionTimeout = 5 * time.Second
	DefaultIdleTimeout       = 15 * time.Minute
	DefaultMaxLifetime       = 28_440_000 * time.Millisecond
)

// Config holds the parameters of one named pool. Durations loaded from
// settings are given in milliseconds; from the environment in Go syntax.
type Config struct {
	// Driver is the database/sql driver name; inferred from URL when empty
	Driver string `envconfig:"DB_DRIVER"`
	// URL is a driver DSN or a jdbc: URL
	URL      string `envconfig:"DB_URL"`
	Username string `envconfig:"DB_USERNAME"`
	Password string `envconfig:"DB_PASSWORD"`

	MinimumIdle     int `envconfig:"DB_MIN_IDLE" default:"5"`
	MaximumPoolSize int `envconfig:"DB_MAX_POOL_SIZE" default:"10"`

	// LeakDetectionThreshold of 0 disables leak detection
	LeakDetectionThreshold time.Duration `envconfig:"DB_LEAK_DETECTION_THRESHOLD" default:"0s"`
	ConnectionTimeout      time.Duration `envconfig:"DB_CONNECTION_TIMEOUT" default:"5s"`
	IdleTimeout            time.Duration `envconfig:"DB_IDLE_TIMEOUT" default:"15m"`
	MaxLifetime            time.Duration `envconfig:"DB_MAX_LIFETIME" default:"7h54m"`
}

// DefaultConfig returns a config with every tuning parameter at its default.
func DefaultConfig() Config {
	return Config{
		MinimumIdle:       DefaultMinimumIdle,
		MaximumPoolSize:   DefaultMaximumPoolSize,
		ConnectionTimeout: DefaultConnectionTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxLifetime:       DefaultMaxLifetime,
	}
}

// WithDefaults fills zero-valued tuning parameters. MinimumIdle is capped at
// MaximumPoolSize.
func (c Config) WithDefaults() Config {
	if c.MaximumPoolSize <= 0 {
		c.MaximumPoolSize = DefaultMaximumPoolSize
	}
	if c.MinimumIdle < 0 {
		c.MinimumIdle = DefaultMinimumIdle
	}
	if c.MinimumIdle > c.MaximumPoolSize {
		c.MinimumIdle = c.MaximumPoolSize
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	return c
}

// Validate checks the config without touching the database.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if c.MaximumPoolSize < 0 {
		return fmt.Errorf("%w: maximum pool size %d", ErrInvalidConfig, c.MaximumPoolSize)
	}
	if c.LeakDetectionThreshold < 0 {
		return fmt.Errorf("%w: negative leak detection threshold", ErrInvalidConfig)
	}
	if _, _, err := c.Resolve(); err != nil {
		return err
	}
	return nil
}

// Resolve returns the dialect and the driver DSN with credentials merged in.
func (c Config) Resolve() (dialect.Dialect, string, error) {
	inferred, dsn, err := dialect.ParseURL(c.URL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	name := c.Driver
	if name == "" {
		name = inferred
	}
	if name == "" {
		return nil, "", fmt.Errorf("%w: driver is required for url %s", ErrInvalidConfig, logger.RedactDSN(c.URL))
	}
	d, err := dialect.Lookup(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	dsn, err = d.DSN(dsn, c.Username, c.Password)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return d, dsn, nil
}

// MarshalLogObject logs the config without the password.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("driver", c.Driver)
	enc.AddString("url", logger.RedactDSN(c.URL))
	enc.AddString("username", c.Username)
	enc.AddInt("min_idle", c.MinimumIdle)
	enc.AddInt("max_pool_size", c.MaximumPoolSize)
	enc.AddDuration("leak_detection_threshold", c.LeakDetectionThreshold)
	enc.AddDuration("connection_timeout", c.ConnectionTimeout)
	enc.AddDuration("idle_timeout", c.IdleTimeout)
	enc.AddDuration("max_lifetime", c.MaxLifetime)
	return nil
}

// LoadConfig reads a config from environment variables, e.g. with prefix
// "DBUTIL": DBUTIL_DB_URL, DBUTIL_DB_MAX_POOL_SIZE.
func LoadConfig(prefix string) (Config, error) {
	var c Config
	if err := envconfig.Process(prefix, &c); err != nil {
		return Config{}, fmt.Errorf("failed to load pool config: %w", err)
	}
	return c, nil
}

// SettingsPrefix returns the key prefix for a datasource: none for "" and
// "default", otherwise the upper-cased name and an underscore.
func SettingsPrefix(name string) string {
	if name == "" || name == "default" {
		return ""
	}
	return strings.ToUpper(name) + "_"
}

// FromSettings reads a datasource's config from settings keys
// [<NAME>_]DB_URL, DB_USERNAME, ... with durations in milliseconds.
// The legacy DB_DRIVER_CLASS key is honoured when DB_DRIVER is absent.
func FromSettings(s *settings.Settings, name string) (Config, error) {
	p := SettingsPrefix(name)
	c := DefaultConfig()

	c.URL = s.String(p + "DB_URL")
	if c.URL == "" {
		return Config{}, fmt.Errorf("%w: no %sDB_URL setting for datasource %q", ErrInvalidConfig, p, name)
	}
	c.Username = s.String(p + "DB_USERNAME")
	c.Password = s.String(p + "DB_PASSWORD")
	c.Driver = s.String(p + "DB_DRIVER")
	if c.Driver == "" {
		if class := s.String(p + "DB_DRIVER_CLASS"); class != "" {
			c.Driver = dialect.DriverForClass(class)
			if c.Driver == "" {
				return Config{}, fmt.Errorf("%w: unknown driver class %q", ErrInvalidConfig, class)
			}
		}
	}

	if n := s.Int(p + "DB_MIN_IDLE"); n >= 0 {
		c.MinimumIdle = n
	}
	if n := s.Int(p + "DB_MAX_POOL_SIZE"); n > 0 {
		c.MaximumPoolSize = n
	}
	if n := s.Int(p + "DB_LEAK_DETECTION_THRESHOLD"); n >= 0 {
		c.LeakDetectionThreshold = millis(n)
	}
	if n := s.Int(p + "DB_CONNECTION_TIMEOUT"); n > 0 {
		c.ConnectionTimeout = millis(n)
	}
	if n := s.Int(p + "DB_IDLE_TIMEOUT"); n > 0 {
		c.IdleTimeout = millis(n)
	}
	if n := s.Int(p + "DB_MAX_LIFETIME"); n > 0 {
		c.MaxLifetime = millis(n)
	}
	return c.WithDefaults(), nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Package config loads process-level configuration from environment
// variables with the prefix "DBUTIL" and wires it into a registry.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/shrek82/dbutil/core"
	"github.com/shrek82/dbutil/logger"
	"github.com/shrek82/dbutil/pool"
	"github.com/shrek82/dbutil/settings"
)

// Prefix is prepended to every variable name, e.g. DBUTIL_DB_URL.
const Prefix = "DBUTIL"

// Config holds all configuration.
// Example: DBUTIL_LOG_LEVEL=debug, DBUTIL_SETTINGS_DIR=/etc/app
type Config struct {
	// Logging configuration
	Log logger.Config

	// Settings file location
	Settings SettingsConfig

	// Datasource is the "default" datasource; ignored when DB_URL is unset,
	// in which case it comes from the settings files
	Datasource pool.Config
}

// SettingsConfig says where cascaded settings files are read from.
type SettingsConfig struct {
	// Dir is searched for the settings files (default: .)
	Dir string `envconfig:"SETTINGS_DIR" default:"."`

	// Name is the base file name without extension (default: config)
	Name string `envconfig:"SETTINGS_NAME" default:"config"`

	// Environment selects the overlay file, e.g. "prod" for config-prod.yaml
	Environment string `envconfig:"ENVIRONMENT"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	// each section is processed separately to keep variable names flat:
	// DBUTIL_LOG_LEVEL rather than DBUTIL_LOG_LOG_LEVEL
	if err := envconfig.Process(Prefix, &cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to load log config: %w", err)
	}
	if err := envconfig.Process(Prefix, &cfg.Settings); err != nil {
		return nil, fmt.Errorf("failed to load settings config: %w", err)
	}
	if err := envconfig.Process(Prefix, &cfg.Datasource); err != nil {
		return nil, fmt.Errorf("failed to load datasource config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// SettingsOptions returns the options for settings.Load.
func (c *Config) SettingsOptions(log *zap.Logger) settings.Options {
	return settings.Options{
		Dirs:        []string{c.Settings.Dir},
		Name:        c.Settings.Name,
		Environment: c.Settings.Environment,
		Logger:      log,
	}
}

// NewRegistry loads the settings files and returns a registry using them,
// with the "default" datasource registered when DB_URL is set. opts are
// applied after the logger and settings options.
func (c *Config) NewRegistry(log *zap.Logger, opts ...core.Option) (*core.Registry, error) {
	log = logger.OrNop(log)
	s, err := settings.Load(c.SettingsOptions(log))
	if err != nil {
		return nil, err
	}

	all := append([]core.Option{core.WithLogger(log), core.WithSettings(s)}, opts...)
	reg, err := core.NewRegistry(all...)
	if err != nil {
		return nil, err
	}
	if c.Datasource.URL != "" {
		if err := reg.Register(core.DefaultDatasource, c.Datasource); err != nil {
			_ = reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

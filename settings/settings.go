// Package settings reads named key-value settings from cascaded configuration
// files, with environment variables taking precedence.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// DefaultName is the base configuration file name (without extension).
	DefaultName = "config"
)

// Options controls where settings are loaded from.
type Options struct {
	// Dirs are searched in order; defaults to the working directory
	Dirs []string
	// Name is the base file name without extension
	Name string
	// Environment names the overlay "<Name>-<Environment>"; empty or
	// "undefined" loads the base file only
	Environment string
	// Type forces the file format (properties, yaml, json, ...); inferred
	// from the extension when empty
	Type string
	// EnvPrefix is prepended to keys when reading environment variables
	EnvPrefix string
	Logger    *zap.Logger
}

// Settings is a read-only view over the loaded configuration.
type Settings struct {
	v *viper.Viper
}

// New returns settings backed only by environment variables and Set.
func New() *Settings {
	v := viper.New()
	v.AutomaticEnv()
	return &Settings{v: v}
}

// Load reads "<Name>.<ext>" and then merges "<Name>-<Environment>.<ext>" over
// it. Missing files are not an error; malformed ones are.
func Load(opts Options) (*Settings, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	dirs := opts.Dirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	v := viper.New()
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	if opts.Type != "" {
		v.SetConfigType(opts.Type)
	}
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.AutomaticEnv()

	v.SetConfigName(name)
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("read settings %q: %w", name, err)
		}
		log.Debug("no base settings file", zap.String("name", name), zap.Strings("dirs", dirs))
	} else {
		log.Debug("loaded settings", zap.String("file", v.ConfigFileUsed()))
	}

	env := strings.TrimSpace(opts.Environment)
	if env == "" || strings.EqualFold(env, "undefined") {
		log.Debug("environment is not defined")
		return &Settings{v: v}, nil
	}

	overlay := name + "-" + env
	v.SetConfigName(overlay)
	if err := v.MergeInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("read settings %q: %w", overlay, err)
		}
		log.Debug("no environment settings file", zap.String("name", overlay))
	} else {
		log.Debug("merged settings", zap.String("file", v.ConfigFileUsed()), zap.String("environment", env))
	}
	return &Settings{v: v}, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf)
}

// Set overrides a setting in memory.
func (s *Settings) Set(name string, value any) {
	s.v.Set(name, value)
}

// IsSet reports whether the setting has a value from any source.
func (s *Settings) IsSet(name string) bool {
	return s.v.IsSet(name)
}

// String returns the setting, or "" when absent.
func (s *Settings) String(name string) string {
	return strings.TrimSpace(s.v.GetString(name))
}

// Int returns the setting, or -1 when absent or not an integer.
func (s *Settings) Int(name string) int {
	raw := s.String(name)
	if raw == "" {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// Bool returns the setting, or false when absent or not a boolean.
func (s *Settings) Bool(name string) bool {
	b, err := strconv.ParseBool(s.String(name))
	if err != nil {
		return false
	}
	return b
}

// Strings splits the setting on commas. An absent setting yields nil.
func (s *Settings) Strings(name string) []string {
	raw := s.String(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

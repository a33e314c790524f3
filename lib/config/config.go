// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Spyglass tools.
//
// Configuration is loaded from a single file specified by:
//   - SPYGLASS_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery; every field has a
// working default, so running without a config file is also fine. The
// only expansion performed is ${HOME} and similar path variables for
// portability.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spyglass-foundation/spyglass/registry"
)

// Config is the configuration for Spyglass client tools.
type Config struct {
	// RegistryDir is the shared directory where running targets
	// advertise their descriptors. Empty means the platform default.
	RegistryDir string `yaml:"registry_dir"`

	// ConnectTimeout bounds the connect phase of each channel, as a
	// Go duration string. Requests past the connect phase are
	// unbounded here and rely on caller cancellation.
	ConnectTimeout string `yaml:"connect_timeout"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		RegistryDir:    registry.DefaultDir(),
		ConnectTimeout: "5s",
		LogLevel:       "info",
	}
}

// Load loads configuration from the SPYGLASS_CONFIG environment
// variable, or returns defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("SPYGLASS_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging over
// the defaults. Environment variables do not override config values;
// the file is the single source of truth.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.RegistryDir = expandVars(cfg.RegistryDir, map[string]string{
		"HOME": os.Getenv("HOME"),
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.RegistryDir == "" {
		errs = append(errs, fmt.Errorf("registry_dir is required"))
	}
	if _, err := time.ParseDuration(c.ConnectTimeout); err != nil {
		errs = append(errs, fmt.Errorf("connect_timeout: %w", err))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ConnectTimeoutDuration returns the parsed connect timeout. Call
// Validate first; an unparseable value falls back to 5s here.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ParseLogLevel converts a config log level string to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", level)
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

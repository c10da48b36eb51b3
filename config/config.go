// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the livechat
// commands.
//
// Configuration is loaded from a single YAML file specified by:
//   - LIVECHAT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Flags override file
// values; environment variables beyond LIVECHAT_CONFIG do not.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for a livechat command.
type Config struct {
	// Instance is the PeerTube host, no scheme.
	Instance string `yaml:"instance"`

	// Room is the livechat room identifier, typically the video UUID.
	Room string `yaml:"room"`

	// Nickname overrides the occupant nickname.
	Nickname string `yaml:"nickname"`

	// Username selects an authenticated session; the password is
	// prompted for, never configured.
	Username string `yaml:"username"`

	// CredentialsFile persists the token pair across runs, so the
	// password prompt happens once. Empty disables persistence.
	CredentialsFile string `yaml:"credentials_file"`

	// HTTPOnly switches to cleartext schemes. For test instances.
	HTTPOnly bool `yaml:"http_only"`

	// KeepAliveInterval is the ping cadence. Default 40s.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// RequestTimeout bounds each correlated request. Default 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// LogLevel is one of debug, info, warn, error. Default info.
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration. Instance and Room stay
// empty: they must come from the file or from flags.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		CredentialsFile:   filepath.Join(home, ".cache", "livechat", "credentials"),
		KeepAliveInterval: 40 * time.Second,
		RequestTimeout:    30 * time.Second,
		LogLevel:          "info",
	}
}

// Load loads configuration from the file named by LIVECHAT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("LIVECHAT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("LIVECHAT_CONFIG environment variable not set; " +
			"set it to the path of your livechat.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, on top of
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Instance == "" {
		errs = append(errs, fmt.Errorf("instance is required"))
	}
	if c.Room == "" {
		errs = append(errs, fmt.Errorf("room is required"))
	}
	if c.KeepAliveInterval < 0 {
		errs = append(errs, fmt.Errorf("keep_alive_interval must not be negative"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level: %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

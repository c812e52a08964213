// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

// Package config loads arc-marginalia settings from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete arc-marginalia configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Content ContentConfig `yaml:"content" toml:"content"`
	Anchor  AnchorConfig  `yaml:"anchor" toml:"anchor"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// StorageConfig selects where annotations are persisted.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path" toml:"path"`
	Key     string `yaml:"key" toml:"key"` // name the annotation list is stored under
}

// ContentConfig points at the HTML page being annotated.
type ContentConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AnchorConfig tunes selection capture.
type AnchorConfig struct {
	ContextLength int `yaml:"context_length" toml:"context_length"`
	MinSelection  int `yaml:"min_selection" toml:"min_selection"`
}

// ServerConfig holds the demo server address.
type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	DefaultStorageKey    = "manifesto-suggestions"
	DefaultContextLength = 30
	DefaultMinSelection  = 3
	DefaultAddr          = "127.0.0.1:8080"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: BackendSQLite, Key: DefaultStorageKey},
		Anchor:  AnchorConfig{ContextLength: DefaultContextLength, MinSelection: DefaultMinSelection},
		Server:  ServerConfig{Addr: DefaultAddr},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file. The format follows the extension:
// .toml is decoded as TOML, anything else as YAML. Environment variables
// written as ${VAR_NAME} are expanded before decoding. Unset fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv resolves the config the CLI runs with: the file named by
// ARC_MARGINALIA_CONFIG (if any), then the storage overrides
// ARC_MARGINALIA_STORAGE and ARC_MARGINALIA_DB.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("ARC_MARGINALIA_CONFIG"); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if backend := os.Getenv("ARC_MARGINALIA_STORAGE"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("ARC_MARGINALIA_DB"); path != "" {
		cfg.Storage.Path = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks field values and returns the first problem found.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of sqlite, memory", c.Storage.Backend)
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage.key is required")
	}
	if c.Anchor.ContextLength < 0 {
		return fmt.Errorf("anchor.context_length must not be negative")
	}
	if c.Anchor.MinSelection < DefaultMinSelection {
		return fmt.Errorf("anchor.min_selection must be at least %d", DefaultMinSelection)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Key == "" {
		c.Storage.Key = d.Storage.Key
	}
	if c.Anchor.ContextLength == 0 {
		c.Anchor.ContextLength = d.Anchor.ContextLength
	}
	if c.Anchor.MinSelection == 0 {
		c.Anchor.MinSelection = d.Anchor.MinSelection
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

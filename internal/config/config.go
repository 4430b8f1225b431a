// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the assistGate server configuration from a YAML file
// and provides structured access to component settings: server binding,
// logging, rate limits, health suppression, circuit breakers, the audit log,
// the replay store, steering rules and the optional user remote provider.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/traylinx/assistGate/internal/audit"
	"github.com/traylinx/assistGate/internal/health"
	"github.com/traylinx/assistGate/internal/ratelimit"
	"github.com/traylinx/assistGate/internal/reliability"
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// Host is the interface the API server binds. Default 127.0.0.1: the
	// diagnostics API is local-only unless explicitly opened.
	Host string `yaml:"host" json:"-"`
	// Port is the API server port.
	Port int `yaml:"port" json:"-"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`
	// LoggingToFile writes logs to rotating files under DataDir/logs.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// DataDir roots all persisted state: audit log, replay store, logs.
	DataDir string `yaml:"data-dir" json:"data-dir"`

	// SettingsFile is the kill-switch settings YAML, hot-reloaded on change.
	// Empty means in-memory settings only.
	SettingsFile string `yaml:"settings-file" json:"settings-file"`

	// SteeringDir holds steering rule YAML files. Empty disables steering.
	SteeringDir string `yaml:"steering-dir" json:"steering-dir"`

	// RateLimit tunes the dispatch rate limiter.
	RateLimit ratelimit.Config `yaml:"rate-limit" json:"rate-limit"`

	// Health tunes the suppression policy.
	Health health.Config `yaml:"health" json:"health"`

	// Breaker tunes the per-provider circuit breakers.
	Breaker reliability.BreakerConfig `yaml:"breaker" json:"breaker"`

	// Audit tunes the audit log. Audit.Path defaults to DataDir/audit.jsonl.
	Audit audit.Config `yaml:"audit" json:"audit"`

	// Replay controls the SQLite replay store.
	Replay ReplayConfig `yaml:"replay" json:"replay"`

	// LocalModel configures the on-device model server provider.
	LocalModel LocalModelConfig `yaml:"local-model" json:"local-model"`

	// RemoteProvider configures the optional user-supplied remote provider.
	RemoteProvider RemoteProviderConfig `yaml:"remote-provider" json:"remote-provider"`
}

// LocalModelConfig points at the localhost model server.
type LocalModelConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	BaseURL string        `yaml:"base-url" json:"base-url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ReplayConfig controls dispatch replay persistence.
type ReplayConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Path          string `yaml:"path" json:"path"`
	RetentionDays int    `yaml:"retention-days" json:"retention-days"`
}

// RemoteProviderConfig is the user-supplied remote provider. Disabled unless
// a base URL is configured; requests to it are always redacted.
type RemoteProviderConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	BaseURL string        `yaml:"base-url" json:"base-url"`
	APIKey  string        `yaml:"api-key" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// UnmarshalYAML accepts Go duration strings ("10s") for the timeout.
func (c *LocalModelConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Enabled *bool  `yaml:"enabled"`
		BaseURL string `yaml:"base-url"`
		Timeout string `yaml:"timeout"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		c.Enabled = *raw.Enabled
	}
	if raw.BaseURL != "" {
		c.BaseURL = raw.BaseURL
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("local-model timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

// UnmarshalYAML accepts Go duration strings ("10s") for the timeout.
func (c *RemoteProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base-url"`
		APIKey  string `yaml:"api-key"`
		Timeout string `yaml:"timeout"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Enabled = raw.Enabled
	c.BaseURL = raw.BaseURL
	c.APIKey = raw.APIKey
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("remote-provider timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

// LoadConfig reads YAML from configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile. If optional is true and the
// file is missing or empty, it returns the default config.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := defaultConfig()
			cfg.applyDerivedPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if optional && len(data) == 0 {
		cfg := defaultConfig()
		cfg.applyDerivedPaths()
		return cfg, nil
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDerivedPaths()
	return cfg, nil
}

// defaultConfig sets defaults before unmarshal so absent keys keep them.
func defaultConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Port:      8317,
		DataDir:   "data",
		RateLimit: ratelimit.DefaultConfig(),
		Health:    health.DefaultConfig(),
		Breaker:   reliability.DefaultBreakerConfig(),
		Audit:     audit.DefaultConfig(),
		Replay: ReplayConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		LocalModel: LocalModelConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		},
		RemoteProvider: RemoteProviderConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// applyDerivedPaths fills path defaults that hang off DataDir.
func (cfg *Config) applyDerivedPaths() {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = filepath.Join(cfg.DataDir, "audit.jsonl")
	}
	if cfg.Replay.Enabled && cfg.Replay.Path == "" {
		cfg.Replay.Path = filepath.Join(cfg.DataDir, "replay.db")
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = filepath.Join(cfg.DataDir, "settings.yaml")
	}
}

// LogDir is where rotating log files go when file logging is enabled.
func (cfg *Config) LogDir() string {
	return filepath.Join(cfg.DataDir, "logs")
}

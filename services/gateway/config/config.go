// Copyright (C) 2025 StellarByte Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config provides configuration loading for the gateway.
//
// Configuration is resolved in three layers, later layers winning:
// built-in defaults, an optional YAML file, and STELLAR_* environment
// variables. Environment overrides cover the values that differ
// between deployments (ports, endpoints, data paths) so container
// setups need no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize caps the config file read (1MB).
const MaxConfigFileSize = 1024 * 1024

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ShutdownTimeout bounds graceful shutdown on SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig describes the single model the gateway fronts.
type ModelConfig struct {
	// ID is the model id exposed on the OpenAI surface.
	ID string `yaml:"id"`

	// RunnerURL is the base URL of the model runner sidecar.
	RunnerURL string `yaml:"runner_url"`

	// Owner appears as owned_by in model listings.
	Owner string `yaml:"owner"`
}

// StorageConfig holds the BadgerDB settings.
type StorageConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

// AuthConfig controls API key gating.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig controls per-caller throttling.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TelemetryConfig controls OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			ID:        "stellar-byte-llm",
			RunnerURL: "http://localhost:8000",
			Owner:     "stellarbyte",
		},
		Storage: StorageConfig{
			Path:       "./data/gateway",
			GCInterval: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     10,
			Burst:   20,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Load resolves the configuration from defaults, the YAML file at
// path (skipped when path is empty or missing), and environment
// overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat config file %s: %w", path, err)
	}
	if info.Size() > MaxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString("STELLAR_HOST", &cfg.Server.Host)
	envInt("STELLAR_PORT", &cfg.Server.Port)
	envString("STELLAR_MODEL_ID", &cfg.Model.ID)
	envString("STELLAR_RUNNER_URL", &cfg.Model.RunnerURL)
	envString("STELLAR_DATA_PATH", &cfg.Storage.Path)
	envBool("STELLAR_AUTH_ENABLED", &cfg.Auth.Enabled)
	envString("STELLAR_LOG_LEVEL", &cfg.Logging.Level)
	envBool("STELLAR_LOG_JSON", &cfg.Logging.JSON)
	envString("STELLAR_LOG_DIR", &cfg.Logging.Dir)
	envBool("STELLAR_TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
}

func envString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func envInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}

func envBool(key string, dst *bool) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*dst = parsed
		}
	}
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Model.ID == "" {
		return fmt.Errorf("model id must not be empty")
	}
	if c.Model.RunnerURL == "" {
		return fmt.Errorf("model runner_url must not be empty")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage path must not be empty")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive")
	}
	return nil
}

// Addr returns the listen address host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

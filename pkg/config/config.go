// Package config loads the engine configuration from YAML with environment
// overrides. Secrets are never written back out; the signing secret only
// flows in via file or environment.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"POLICYOS_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"POLICYOS_LOG_PRETTY"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"POLICYOS_STORAGE_BACKEND"`
	DSN     string `yaml:"dsn" env:"POLICYOS_STORAGE_DSN"`
}

// GovernanceConfig tunes the approval token service.
type GovernanceConfig struct {
	SigningSecret   string `yaml:"signing_secret" env:"POLICYOS_SIGNING_SECRET"`
	DefaultTokenTTL int    `yaml:"default_token_ttl_sec" env:"POLICYOS_TOKEN_TTL_SEC"`
}

// Config is the root configuration for the engine and CLI.
type Config struct {
	MerchantID string           `yaml:"merchant_id" env:"POLICYOS_MERCHANT_ID"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Governance GovernanceConfig `yaml:"governance"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{Backend: BackendMemory},
		Governance: GovernanceConfig{
			DefaultTokenTTL: 300,
		},
	}
}

// Load reads the YAML file at path (if non-empty), expands environment
// variables inside it, then applies POLICYOS_* environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		expanded := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.DSN == "" {
			return fmt.Errorf("sqlite backend requires storage.dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Governance.DefaultTokenTTL < 0 {
		return fmt.Errorf("governance.default_token_ttl_sec must not be negative")
	}
	return nil
}

// Package config loads the quotad process configuration.
//
// Configuration comes from three layers, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file
//  3. QUOTA_SECTION_FIELD environment variables (e.g. QUOTA_STORE_REDIS_URL)
//
// The result is validated once, after all layers are applied.
package config

import (
	"time"

	"github.com/nhalm/quota/policy"
	"github.com/nhalm/quota/store"
)

// Config is the complete quotad configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Store    store.Config    `yaml:"store"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Limits   LimitsConfig    `yaml:"limits"`
	Policies []policy.Config `yaml:"policies" validate:"dive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// MaxBodyBytes bounds decision request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LimitsConfig holds limiter-wide tuning.
type LimitsConfig struct {
	// CheckTimeout bounds the store calls of one check; zero disables it.
	CheckTimeout time.Duration `yaml:"check_timeout" validate:"gte=0"`

	// LedgerCap caps timestamp logs per key.
	LedgerCap int `yaml:"ledger_cap" validate:"gte=0"`
}

// Default returns a configuration that runs on the in-process store with
// the built-in policies.
func Default() *Config {
	cfg := &Config{Policies: policy.DefaultConfigs()}
	ApplyDefaults(cfg)
	return cfg
}

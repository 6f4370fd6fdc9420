package config

import (
	"time"

	"github.com/nhalm/quota/ratelimit"
)

const (
	DefaultListenAddress   = ":8080"
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 64 << 10
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultMetricsPath     = "/metrics"
	DefaultCheckTimeout    = 250 * time.Millisecond
)

// ApplyDefaults fills zero values in cfg. Policies are left alone here; the
// built-in set is merged in by Load.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Limits.CheckTimeout == 0 {
		cfg.Limits.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.Limits.LedgerCap == 0 {
		cfg.Limits.LedgerCap = ratelimit.MaxLedgerEntries
	}
}

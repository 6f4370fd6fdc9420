package store

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)

// Config selects and configures a backend.
type Config struct {
	// Redis configures the remote cache. An empty Redis.URL selects Memory.
	Redis RedisConfig `yaml:"redis"`

	// Memory configures the in-process fallback.
	Memory MemoryConfig `yaml:"memory"`

	// FallbackToMemory keeps startup going on the in-process store when
	// Redis is configured but unreachable.
	FallbackToMemory bool `yaml:"fallback_to_memory"`
}

// Backend names reported by Kind.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

// New builds the Store described by config. The choice between Redis and
// Memory is made here, once; callers only ever see the Store interface.
func New(config Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if config.Redis.URL == "" {
		logger.Info("using in-process store", "reason", "no redis url configured")
		return NewMemory(config.Memory), nil
	}

	st, err := NewRedis(config.Redis)
	if err == nil {
		logger.Info("using redis store", "addr", config.Redis.URL, "db", config.Redis.DB)
		return st, nil
	}

	if config.FallbackToMemory && errors.Is(err, ErrUnavailable) {
		logger.Warn("redis unreachable, using in-process store", "addr", config.Redis.URL, "error", err)
		return NewMemory(config.Memory), nil
	}
	return nil, fmt.Errorf("store: %w", err)
}

// Kind returns the backend name for st, or "unknown".
func Kind(st Store) string {
	switch st.(type) {
	case *Memory:
		return KindMemory
	case *Redis:
		return KindRedis
	default:
		return "unknown"
	}
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nhalm/quota/policy"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUOTA_"

// ErrInvalid is returned when the final configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML file at path, applies defaults and environment
// overrides, merges file policies over the built-in ones, and validates the
// result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Policies = policy.Merge(policy.DefaultConfigs(), cfg.Policies)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg, including every policy.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}

	seen := make(map[string]bool, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate policy %q", ErrInvalid, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// SlogLevel maps Log.Level to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type lookupFunc func(string) (string, bool)

type override struct {
	name  string
	apply func(string) error
}

// applyEnvOverrides applies QUOTA_SECTION_FIELD variables. Empty values are
// ignored; malformed ones are an error.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	overrides := []override{
		{"SERVER_LISTEN_ADDRESS", setString(&cfg.Server.ListenAddress)},
		{"SERVER_READ_TIMEOUT", setDuration(&cfg.Server.ReadTimeout)},
		{"SERVER_WRITE_TIMEOUT", setDuration(&cfg.Server.WriteTimeout)},
		{"SERVER_IDLE_TIMEOUT", setDuration(&cfg.Server.IdleTimeout)},
		{"SERVER_SHUTDOWN_TIMEOUT", setDuration(&cfg.Server.ShutdownTimeout)},

		{"STORE_REDIS_URL", setString(&cfg.Store.Redis.URL)},
		{"STORE_REDIS_PASSWORD", setString(&cfg.Store.Redis.Password)},
		{"STORE_REDIS_DB", setInt(&cfg.Store.Redis.DB)},
		{"STORE_REDIS_PREFIX", setString(&cfg.Store.Redis.Prefix)},
		{"STORE_REDIS_OPERATION_TIMEOUT", setDuration(&cfg.Store.Redis.OperationTimeout)},
		{"STORE_MEMORY_MAX_ENTRIES", setInt(&cfg.Store.Memory.MaxEntries)},
		{"STORE_FALLBACK_TO_MEMORY", setBool(&cfg.Store.FallbackToMemory)},

		{"LOG_LEVEL", setString(&cfg.Log.Level)},
		{"LOG_FORMAT", setString(&cfg.Log.Format)},

		{"METRICS_ENABLED", setBool(&cfg.Metrics.Enabled)},
		{"METRICS_PATH", setString(&cfg.Metrics.Path)},

		{"LIMITS_CHECK_TIMEOUT", setDuration(&cfg.Limits.CheckTimeout)},
		{"LIMITS_LEDGER_CAP", setInt(&cfg.Limits.LedgerCap)},
	}

	for _, o := range overrides {
		val, ok := lookup(EnvPrefix + o.name)
		if !ok || val == "" {
			continue
		}
		if err := o.apply(val); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalid, EnvPrefix, o.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

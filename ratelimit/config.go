package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned by constructors for configuration that could
// never produce a meaningful limiter (non-positive limits, zero refill rate, ...).
var ErrInvalidConfig = errors.New("invalid rate limit config")

// DefaultSubWindows is the number of sub-windows a SlidingWindow uses when
// WindowConfig.SubWindows is zero.
const DefaultSubWindows = 10

// DefaultBucketTTL is how long idle token bucket state is kept.
const DefaultBucketTTL = time.Hour

var validate = validator.New(validator.WithRequiredStructEnabled())

// WindowConfig configures FixedWindow, Distributed, and SlidingWindow limiters.
type WindowConfig struct {
	// Name namespaces the limiter's keys, usually the policy name.
	Name string `validate:"required"`

	// Limit is the maximum number of requests per window.
	Limit int `validate:"gt=0"`

	// Window is the trailing interval requests are counted over.
	Window time.Duration `validate:"gte=1ms"`

	// SubWindows is used by SlidingWindow only (default: DefaultSubWindows).
	SubWindows int `validate:"gte=0"`
}

// TokenBucketConfig configures a TokenBucket.
type TokenBucketConfig struct {
	Name string `validate:"required"`

	// Capacity is the bucket size and the largest burst admitted.
	Capacity int `validate:"gt=0"`

	// RefillRate is tokens added per second.
	RefillRate float64 `validate:"gt=0"`

	// TTL bounds how long idle state is kept. It is raised to at least
	// DefaultBucketTTL and to twice the time a full refill takes.
	TTL time.Duration `validate:"gte=0"`
}

// AdaptiveConfig configures an Adaptive limiter.
type AdaptiveConfig struct {
	Name   string        `validate:"required"`
	Limit  int           `validate:"gt=0"`
	Window time.Duration `validate:"gte=1ms"`

	// Factor is how strongly load reduces the limit: at load 1 the limit
	// becomes Limit*(1-Factor).
	Factor float64 `validate:"gte=0,lte=1"`
}

func validateConfig(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func limitAboveCap(limit, ledgerCap int) error {
	return fmt.Errorf("%w: Limit %d exceeds ledger cap %d", ErrInvalidConfig, limit, ledgerCap)
}

package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nhalm/quota/ratelimit"
)

// ErrInvalidConfig is returned for policy configuration that cannot build a limiter.
var ErrInvalidConfig = errors.New("invalid policy config")

// DefaultMessage is used when a policy has no message of its own.
const DefaultMessage = "Too many requests, please try again later."

// KeyGenerator maps a caller identifier to the identifier a policy counts
// under. It lets several call sites share or split a quota.
type KeyGenerator func(identifier string) string

// Config is the plain configuration record for one named policy.
//
// Every algorithm is described by Window and MaxRequests. Token buckets
// default Capacity to MaxRequests and RefillRate to MaxRequests per Window.
type Config struct {
	Name        string        `yaml:"name" validate:"required"`
	Algorithm   string        `yaml:"algorithm" validate:"omitempty,oneof=fixed_window sliding_window token_bucket distributed adaptive"`
	Window      time.Duration `yaml:"window" validate:"gte=1ms"`
	MaxRequests int           `yaml:"max_requests" validate:"gt=0"`
	Message     string        `yaml:"message"`

	// SubWindows applies to sliding_window.
	SubWindows int `yaml:"sub_windows" validate:"gte=0"`

	// Capacity and RefillRate apply to token_bucket.
	Capacity   int     `yaml:"capacity" validate:"gte=0"`
	RefillRate float64 `yaml:"refill_rate" validate:"gte=0"`

	// AdaptiveFactor applies to adaptive.
	AdaptiveFactor float64 `yaml:"adaptive_factor" validate:"gte=0,lte=1"`

	// KeyGenerator is optional; the identifier is used as-is without one.
	KeyGenerator KeyGenerator `yaml:"-" validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports whether c describes a usable policy.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: policy %q: %s", ErrInvalidConfig, c.Name, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
}

// withDefaults fills algorithm-specific fields left at zero.
func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = ratelimit.AlgorithmFixedWindow
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	if c.Algorithm == ratelimit.AlgorithmTokenBucket {
		if c.Capacity == 0 {
			c.Capacity = c.MaxRequests
		}
		if c.RefillRate == 0 && c.Window > 0 {
			c.RefillRate = float64(c.MaxRequests) / c.Window.Seconds()
		}
	}
	return c
}

// Package policy turns named rate limit configurations into ready limiters.
//
// A Policy is immutable once built. A Registry holds the policies a process
// uses and is constructed once at startup, then passed to whatever needs it:
//
//	st, _ := store.New(cfg.Store, logger)
//	reg, err := policy.NewDefaultRegistry(st)
//	api, _ := reg.Get(policy.NameAPI)
//	res := api.Check(ctx, ratelimit.IPKey(ip))
//
// CheckAll evaluates several policies in caller order and stops at the first
// denial. Guard and Enforce adapt the result-returning API for callers that
// prefer an error.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/nhalm/canonlog"

	"github.com/nhalm/quota/ratelimit"
	"github.com/nhalm/quota/store"
)

// Policy is a named limiter plus the message and key convention that go with it.
type Policy struct {
	cfg      Config
	limiter  ratelimit.Limiter
	adaptive *ratelimit.Adaptive
}

// New validates cfg and builds its limiter on st.
func New(st store.Store, cfg Config, opts ...ratelimit.Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	p := &Policy{cfg: cfg}
	var err error
	window := ratelimit.WindowConfig{
		Name:       cfg.Name,
		Limit:      cfg.MaxRequests,
		Window:     cfg.Window,
		SubWindows: cfg.SubWindows,
	}

	switch cfg.Algorithm {
	case ratelimit.AlgorithmFixedWindow:
		p.limiter, err = ratelimit.NewFixedWindow(st, window, opts...)
	case ratelimit.AlgorithmSlidingWindow:
		p.limiter, err = ratelimit.NewSlidingWindow(st, window, opts...)
	case ratelimit.AlgorithmDistributed:
		p.limiter, err = ratelimit.NewDistributed(st, window, opts...)
	case ratelimit.AlgorithmTokenBucket:
		p.limiter, err = ratelimit.NewTokenBucket(st, ratelimit.TokenBucketConfig{
			Name:       cfg.Name,
			Capacity:   cfg.Capacity,
			RefillRate: cfg.RefillRate,
			TTL:        2 * cfg.Window,
		}, opts...)
	case ratelimit.AlgorithmAdaptive:
		p.adaptive, err = ratelimit.NewAdaptive(st, ratelimit.AdaptiveConfig{
			Name:   cfg.Name,
			Limit:  cfg.MaxRequests,
			Window: cfg.Window,
			Factor: cfg.AdaptiveFactor,
		}, opts...)
		p.limiter = p.adaptive
	default:
		return nil, fmt.Errorf("%w: policy %q: unknown algorithm %q", ErrInvalidConfig, cfg.Name, cfg.Algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: policy %q: %w", ErrInvalidConfig, cfg.Name, err)
	}
	return p, nil
}

// Name returns the policy name.
func (p *Policy) Name() string { return p.cfg.Name }

// Algorithm returns the algorithm backing the policy.
func (p *Policy) Algorithm() string { return p.cfg.Algorithm }

// Window returns the counting window.
func (p *Policy) Window() time.Duration { return p.cfg.Window }

// MaxRequests returns the configured limit.
func (p *Policy) MaxRequests() int { return p.cfg.MaxRequests }

// Message returns the message shown to denied callers.
func (p *Policy) Message() string { return p.cfg.Message }

// Config returns a copy of the effective configuration.
func (p *Policy) Config() Config { return p.cfg }

// Limiter returns the underlying limiter.
func (p *Policy) Limiter() ratelimit.Limiter { return p.limiter }

// Key returns the identifier the policy counts identifier under.
func (p *Policy) Key(identifier string) string {
	if p.cfg.KeyGenerator == nil {
		return identifier
	}
	return p.cfg.KeyGenerator(identifier)
}

// Check records an attempt for identifier. It never fails; see ratelimit.Limiter.
func (p *Policy) Check(ctx context.Context, identifier string) ratelimit.Result {
	return p.CheckLoad(ctx, identifier, 0)
}

// CheckLoad is Check for adaptive policies, which scale their limit down as
// load in [0, 1] rises. Other algorithms ignore load.
func (p *Policy) CheckLoad(ctx context.Context, identifier string, load float64) ratelimit.Result {
	var res ratelimit.Result
	if p.adaptive != nil {
		res = p.adaptive.CheckLoad(ctx, p.Key(identifier), load)
	} else {
		res = p.limiter.Check(ctx, p.Key(identifier))
	}

	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAddMany(ctx, map[string]any{
			"ratelimit_policy":  p.cfg.Name,
			"ratelimit_allowed": res.Allowed,
		})
	}
	return res
}

// Reset clears the usage recorded for identifier.
func (p *Policy) Reset(ctx context.Context, identifier string) error {
	return p.limiter.Reset(ctx, p.Key(identifier))
}

package ratelimit

import (
	"context"
	"math"

	"github.com/nhalm/quota/store"
)

// Adaptive lowers a fixed-window limit as system load rises:
//
//	adjusted = floor(limit * (1 - load*factor))
//
// The load signal in [0, 1] comes from the caller on every check; Adaptive
// has no sensor of its own. All load levels share one timestamp log per
// identifier, so requests admitted under low load still count once load rises.
// An adjusted limit of zero denies everything.
type Adaptive struct {
	fixed  *FixedWindow
	factor float64
}

// NewAdaptive creates an Adaptive limiter.
func NewAdaptive(st store.Store, cfg AdaptiveConfig, opts ...Option) (*Adaptive, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	fw, err := newFixedWindow(st, WindowConfig{
		Name:   cfg.Name,
		Limit:  cfg.Limit,
		Window: cfg.Window,
	}, AlgorithmAdaptive, opts)
	if err != nil {
		return nil, err
	}
	return &Adaptive{fixed: fw, factor: cfg.Factor}, nil
}

// AdjustedLimit returns the limit applied at the given load. Load is clamped
// to [0, 1]; NaN counts as no load.
func (a *Adaptive) AdjustedLimit(load float64) int {
	if math.IsNaN(load) || load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	return int(math.Floor(float64(a.fixed.Limit()) * (1 - load*a.factor)))
}

// CheckLoad records an attempt for identifier under the given load.
func (a *Adaptive) CheckLoad(ctx context.Context, identifier string, load float64) Result {
	return a.fixed.checkLimit(ctx, identifier, a.AdjustedLimit(load))
}

// Check records an attempt assuming no load.
func (a *Adaptive) Check(ctx context.Context, identifier string) Result {
	return a.CheckLoad(ctx, identifier, 0)
}

// Reset clears the log for identifier.
func (a *Adaptive) Reset(ctx context.Context, identifier string) error {
	return a.fixed.Reset(ctx, identifier)
}

// Name returns the limiter name.
func (a *Adaptive) Name() string {
	return a.fixed.Name()
}

// Limit returns the base limit before load adjustment.
func (a *Adaptive) Limit() int {
	return a.fixed.Limit()
}

// Factor returns the load sensitivity.
func (a *Adaptive) Factor() float64 {
	return a.factor
}

// At returns a Limiter view that checks under a fixed load, so an adaptive
// limiter can be used wherever a plain Limiter is expected.
func (a *Adaptive) At(load float64) Limiter {
	return adaptiveAt{a: a, load: load}
}

type adaptiveAt struct {
	a    *Adaptive
	load float64
}

func (v adaptiveAt) Check(ctx context.Context, identifier string) Result {
	return v.a.CheckLoad(ctx, identifier, v.load)
}

func (v adaptiveAt) Reset(ctx context.Context, identifier string) error {
	return v.a.Reset(ctx, identifier)
}

func (v adaptiveAt) Name() string {
	return v.a.Name()
}

func (v adaptiveAt) Limit() int {
	return v.a.AdjustedLimit(v.load)
}

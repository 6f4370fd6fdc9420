package ratelimit

import (
	"context"

	"github.com/nhalm/quota/store"
)

// Distributed is the fixed-window algorithm for deployments with several
// processes sharing one store, typically Redis.
//
// Cross-process visibility comes from the shared store and nothing else:
// there is no distributed lock, no consensus, and no atomic increment. Two
// instances checking the same key at the same moment can both admit, so the
// effective limit under contention is approximate. Keys live under their own
// namespace so a Distributed and a FixedWindow with the same name never share state.
type Distributed struct {
	fixed *FixedWindow
}

// NewDistributed creates a Distributed limiter.
func NewDistributed(st store.Store, cfg WindowConfig, opts ...Option) (*Distributed, error) {
	fw, err := newFixedWindow(st, cfg, AlgorithmDistributed, opts)
	if err != nil {
		return nil, err
	}
	return &Distributed{fixed: fw}, nil
}

// Check records an attempt for identifier.
func (d *Distributed) Check(ctx context.Context, identifier string) Result {
	return d.fixed.Check(ctx, identifier)
}

// Reset clears the log for identifier.
func (d *Distributed) Reset(ctx context.Context, identifier string) error {
	return d.fixed.Reset(ctx, identifier)
}

// Name returns the limiter name.
func (d *Distributed) Name() string {
	return d.fixed.Name()
}

// Limit returns the configured limit.
func (d *Distributed) Limit() int {
	return d.fixed.Limit()
}

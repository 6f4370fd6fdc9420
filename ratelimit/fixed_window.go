package ratelimit

import (
	"context"
	"time"

	"github.com/nhalm/quota/store"
)

// FixedWindow counts admitted requests in a trailing window of fixed length
// using a timestamp log per key.
//
// # Algorithm
//
//  1. Load the log and drop timestamps at or before now-window
//  2. Deny if the remaining count n has reached the limit
//  3. Otherwise append now and write the log back with a TTL of twice the window
//
// The TTL guarantees an idle key is reclaimed without a sweep. A denied
// request does not touch the log.
type FixedWindow struct {
	base
	limit  int
	window time.Duration
}

// NewFixedWindow creates a FixedWindow limiter.
//
// Example:
//
//	// 100 requests per minute per identifier
//	fw, err := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
//		Name:   "api",
//		Limit:  100,
//		Window: time.Minute,
//	})
func NewFixedWindow(st store.Store, cfg WindowConfig, opts ...Option) (*FixedWindow, error) {
	return newFixedWindow(st, cfg, AlgorithmFixedWindow, opts)
}

func newFixedWindow(st store.Store, cfg WindowConfig, algorithm string, opts []Option) (*FixedWindow, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	fw := &FixedWindow{
		base:   newBase(st, cfg.Name, algorithm, opts),
		limit:  cfg.Limit,
		window: cfg.Window,
	}
	if cfg.Limit > fw.opts.ledgerCap {
		return nil, limitAboveCap(cfg.Limit, fw.opts.ledgerCap)
	}
	return fw, nil
}

// Limit returns the configured limit.
func (f *FixedWindow) Limit() int {
	return f.limit
}

// Window returns the window length.
func (f *FixedWindow) Window() time.Duration {
	return f.window
}

// Check records an attempt for identifier.
func (f *FixedWindow) Check(ctx context.Context, identifier string) Result {
	return f.checkLimit(ctx, identifier, f.limit)
}

// Reset clears the log for identifier.
func (f *FixedWindow) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := f.bound(ctx)
	defer cancel()
	return f.ledger.Forget(ctx, f.key(identifier))
}

// checkLimit runs the window check against an explicit limit. A limit of
// zero or less always denies.
func (f *FixedWindow) checkLimit(ctx context.Context, identifier string, limit int) Result {
	start := f.now()

	ctx, cancel := f.bound(ctx)
	defer cancel()

	res, err := f.evaluate(ctx, f.key(identifier), limit, start)
	if err != nil {
		return f.failOpen(ctx, start, identifier, limit, f.window, err)
	}
	f.record(start, res)
	return res
}

func (f *FixedWindow) evaluate(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	windowMs := f.window.Milliseconds()

	stamps, err := f.ledger.Timestamps(ctx, key)
	if err != nil {
		return Result{}, err
	}
	stamps = Prune(stamps, nowMs-windowMs)
	n := len(stamps)

	if limit <= 0 || n >= limit {
		return deniedResult(limit, n, resetIn(stamps, nowMs, windowMs)), nil
	}

	stamps = append(stamps, nowMs)
	if err := f.ledger.SaveTimestamps(ctx, key, stamps, 2*f.window); err != nil {
		return Result{}, err
	}
	return allowedResult(limit, n+1, resetIn(stamps, nowMs, windowMs)), nil
}

// resetIn returns the time until the oldest retained stamp leaves the
// window, or the full window when nothing is retained.
func resetIn(stamps []int64, nowMs, windowMs int64) time.Duration {
	if len(stamps) == 0 {
		return time.Duration(windowMs) * time.Millisecond
	}
	oldest := stamps[0]
	for _, ts := range stamps[1:] {
		if ts < oldest {
			oldest = ts
		}
	}
	return time.Duration(max(0, oldest+windowMs-nowMs)) * time.Millisecond
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nhalm/quota/store"
)

// SlidingWindow approximates a trailing window with S fixed sub-windows.
//
// # Algorithm
//
// With sub-window length w/S, the current index is i = floor(now / (w/S)).
// Each index has its own counter key, "sliding_window:<name>:<identifier>:<i>".
//
//  1. Read the counters for indexes i-S+1 .. i in one MGet
//  2. Deny if their sum has reached the limit
//  3. Otherwise increment counter i and write it back with a TTL of one window
//
// # Precision
//
// A sub-window counts in full until it leaves the range. Any span of S-1
// sub-windows holds at most limit admissions; a full trailing window can hold
// about limit*(1+1/S) for evenly spread traffic, and more when a burst sits
// at the very end of the oldest sub-window. Larger S tightens the bound at
// the cost of S keys per identifier. S is a tuning parameter, not a
// correctness requirement.
type SlidingWindow struct {
	base
	limit      int
	window     time.Duration
	subWindows int
	subMs      int64
}

// NewSlidingWindow creates a SlidingWindow limiter. The window must be at
// least SubWindows milliseconds long.
func NewSlidingWindow(st store.Store, cfg WindowConfig, opts ...Option) (*SlidingWindow, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.SubWindows == 0 {
		cfg.SubWindows = DefaultSubWindows
	}

	subMs := cfg.Window.Milliseconds() / int64(cfg.SubWindows)
	if subMs < 1 {
		return nil, fmt.Errorf("%w: Window %s is shorter than %d sub-windows of 1ms", ErrInvalidConfig, cfg.Window, cfg.SubWindows)
	}

	return &SlidingWindow{
		base:       newBase(st, cfg.Name, AlgorithmSlidingWindow, opts),
		limit:      cfg.Limit,
		window:     cfg.Window,
		subWindows: cfg.SubWindows,
		subMs:      subMs,
	}, nil
}

// Limit returns the configured limit.
func (s *SlidingWindow) Limit() int {
	return s.limit
}

// SubWindows returns S.
func (s *SlidingWindow) SubWindows() int {
	return s.subWindows
}

// Check records an attempt for identifier.
func (s *SlidingWindow) Check(ctx context.Context, identifier string) Result {
	start := s.now()

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.evaluate(ctx, identifier, start)
	if err != nil {
		return s.failOpen(ctx, start, identifier, s.limit, s.window, err)
	}
	s.record(start, res)
	return res
}

// Reset deletes every sub-window counter still in range for identifier.
func (s *SlidingWindow) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, keys := s.keys(identifier, s.now())
	return s.ledger.Forget(ctx, keys...)
}

func (s *SlidingWindow) evaluate(ctx context.Context, identifier string, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	first, keys := s.keys(identifier, now)

	counts, err := s.ledger.Counts(ctx, keys...)
	if err != nil {
		return Result{}, err
	}

	var sum int64
	oldest := -1
	for i, c := range counts {
		if c > 0 && oldest < 0 {
			oldest = i
		}
		sum += c
	}

	if sum >= int64(s.limit) {
		return deniedResult(s.limit, int(sum), s.resetIn(first, oldest, nowMs)), nil
	}

	current := len(keys) - 1
	if err := s.ledger.SaveCount(ctx, keys[current], counts[current]+1, s.window); err != nil {
		return Result{}, err
	}
	if oldest < 0 {
		oldest = current
	}
	return allowedResult(s.limit, int(sum)+1, s.resetIn(first, oldest, nowMs)), nil
}

// keys returns the index of the oldest sub-window in range and the S counter
// keys, oldest first; the last key is the current sub-window.
func (s *SlidingWindow) keys(identifier string, now time.Time) (int64, []string) {
	current := now.UnixMilli() / s.subMs
	first := current - int64(s.subWindows-1)

	keys := make([]string, s.subWindows)
	for i := range keys {
		keys[i] = s.key(identifier, strconv.FormatInt(first+int64(i), 10))
	}
	return first, keys
}

// resetIn returns the time until the oldest non-empty sub-window drops out of range.
func (s *SlidingWindow) resetIn(first int64, oldest int, nowMs int64) time.Duration {
	if oldest < 0 {
		return time.Duration(s.subMs) * time.Millisecond
	}
	leaves := (first + int64(oldest) + int64(s.subWindows)) * s.subMs
	return time.Duration(max(0, leaves-nowMs)) * time.Millisecond
}

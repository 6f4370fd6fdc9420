package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nhalm/quota/store"
)

// MaxLedgerEntries caps a timestamp log regardless of the configured limit,
// so pathological traffic cannot grow a record without bound.
const MaxLedgerEntries = 10_000

// Ledger stores per-key request records on top of a store.Store: either a
// log of admitted timestamps (milliseconds) or a plain counter.
//
// Malformed records are reported as store.ErrUnavailable so that callers
// fail open instead of locking a key out.
type Ledger struct {
	store store.Store
	cap   int
}

// NewLedger returns a Ledger that keeps at most maxEntries timestamps per key.
func NewLedger(st store.Store, maxEntries int) *Ledger {
	if maxEntries <= 0 {
		maxEntries = MaxLedgerEntries
	}
	return &Ledger{store: st, cap: maxEntries}
}

// Timestamps returns the log stored under key, oldest first.
func (l *Ledger) Timestamps(ctx context.Context, key string) ([]int64, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	var stamps []int64
	if err := json.Unmarshal(raw, &stamps); err != nil {
		return nil, fmt.Errorf("%w: decode ledger %q: %w", store.ErrUnavailable, key, err)
	}
	return stamps, nil
}

// SaveTimestamps writes the log for key, dropping the oldest entries beyond the cap.
func (l *Ledger) SaveTimestamps(ctx context.Context, key string, stamps []int64, ttl time.Duration) error {
	if over := len(stamps) - l.cap; over > 0 {
		stamps = stamps[over:]
	}

	raw, err := json.Marshal(stamps)
	if err != nil {
		return fmt.Errorf("%w: encode ledger %q: %w", store.ErrUnavailable, key, err)
	}
	return l.store.Set(ctx, key, raw, ttl)
}

// Counts returns the counters for keys in order; missing keys count as zero.
func (l *Ledger) Counts(ctx context.Context, keys ...string) ([]int64, error) {
	raw, err := l.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	counts := make([]int64, len(keys))
	for i, v := range raw {
		if len(v) == 0 {
			continue
		}
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode counter %q: %w", store.ErrUnavailable, keys[i], err)
		}
		counts[i] = max(0, n)
	}
	return counts, nil
}

// SaveCount writes a counter. Counters are decimal strings so a backend
// could later switch to an atomic server-side increment on the same keys.
func (l *Ledger) SaveCount(ctx context.Context, key string, n int64, ttl time.Duration) error {
	return l.store.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), ttl)
}

// Forget deletes every key.
func (l *Ledger) Forget(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := l.store.Del(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Prune drops timestamps at or before cutoff, in place. Order is preserved;
// logs written by several processes with skewed clocks need not be sorted.
func Prune(stamps []int64, cutoff int64) []int64 {
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

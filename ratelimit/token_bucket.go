package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nhalm/quota/store"
)

// TokenBucket implements the token bucket algorithm over the shared store.
//
// The bucket allows bursts up to capacity while capping sustained throughput
// at the refill rate. Refill is computed from elapsed time at check time;
// there is no background timer.
//
// # Algorithm
//
//  1. Load {tokens, lastRefill}, defaulting to a full bucket
//  2. tokensToAdd = floor((now-lastRefill) / refillPeriod)
//  3. current = min(capacity, tokens+tokensToAdd)
//  4. Allow if current >= requested and take the tokens
//  5. Persist {tokens, lastRefill: now} whether or not the request was allowed
//
// Tokens never leave [0, capacity].
type TokenBucket struct {
	base
	capacity   int
	refillRate float64
	periodMs   float64
	ttl        time.Duration
}

type bucketState struct {
	Tokens     int64 `json:"tokens"`
	LastRefill int64 `json:"last_refill"`
}

// NewTokenBucket creates a TokenBucket limiter.
//
// Example:
//
//	// burst of 50, 10 requests/sec sustained
//	tb, err := ratelimit.NewTokenBucket(st, ratelimit.TokenBucketConfig{
//		Name:       "upload",
//		Capacity:   50,
//		RefillRate: 10,
//	})
func NewTokenBucket(st store.Store, cfg TokenBucketConfig, opts ...Option) (*TokenBucket, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	t := &TokenBucket{
		base:       newBase(st, cfg.Name, AlgorithmTokenBucket, opts),
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		periodMs:   1000 / cfg.RefillRate,
		ttl:        cfg.TTL,
	}
	// State must outlive a full refill, otherwise an expired key reads back
	// as a full bucket before the tokens were earned.
	t.ttl = max(t.ttl, DefaultBucketTTL, 2*t.duration(float64(cfg.Capacity)))
	return t, nil
}

// Limit returns the bucket capacity.
func (t *TokenBucket) Limit() int {
	return t.capacity
}

// RefillRate returns tokens added per second.
func (t *TokenBucket) RefillRate() float64 {
	return t.refillRate
}

// Check takes one token for identifier.
func (t *TokenBucket) Check(ctx context.Context, identifier string) Result {
	return t.Take(ctx, identifier, 1)
}

// Take attempts to consume n tokens. Values below 1 are treated as 1.
// Requests for more than the capacity are always denied.
func (t *TokenBucket) Take(ctx context.Context, identifier string, n int) Result {
	if n < 1 {
		n = 1
	}
	start := t.now()

	ctx, cancel := t.bound(ctx)
	defer cancel()

	res, err := t.evaluate(ctx, t.key(identifier), int64(n), start)
	if err != nil {
		return t.failOpen(ctx, start, identifier, t.capacity, t.duration(float64(n)), err)
	}
	t.record(start, res)
	return res
}

// Reset refills the bucket for identifier by deleting its state.
func (t *TokenBucket) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.ledger.Forget(ctx, t.key(identifier))
}

func (t *TokenBucket) evaluate(ctx context.Context, key string, n int64, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	capacity := int64(t.capacity)

	state, err := t.load(ctx, key, nowMs)
	if err != nil {
		return Result{}, err
	}

	elapsed := max(0, nowMs-state.LastRefill)
	toAdd := int64(math.Floor(float64(elapsed) / t.periodMs))
	current := min(capacity, max(0, state.Tokens)+toAdd)

	allowed := current >= n
	tokens := current
	if allowed {
		tokens -= n
	}

	raw, err := json.Marshal(bucketState{Tokens: tokens, LastRefill: nowMs})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode bucket %q: %w", store.ErrUnavailable, key, err)
	}
	if err := t.store.Set(ctx, key, raw, t.ttl); err != nil {
		return Result{}, err
	}

	if !allowed {
		return deniedResult(t.capacity, t.capacity, t.duration(float64(n-current))), nil
	}
	return allowedResult(t.capacity, int(capacity-tokens), t.duration(float64(capacity-tokens))), nil
}

func (t *TokenBucket) load(ctx context.Context, key string, nowMs int64) (bucketState, error) {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return bucketState{}, err
	}
	if !ok {
		return bucketState{Tokens: int64(t.capacity), LastRefill: nowMs}, nil
	}

	var state bucketState
	if err := json.Unmarshal(raw, &state); err != nil {
		return bucketState{}, fmt.Errorf("%w: decode bucket %q: %w", store.ErrUnavailable, key, err)
	}
	return state, nil
}

// duration converts a number of refill periods into a time.Duration.
func (t *TokenBucket) duration(periods float64) time.Duration {
	if periods <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(periods * t.periodMs * float64(time.Millisecond)))
}

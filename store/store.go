// Package store provides the key-value backends shared by every limiter.
//
// Two implementations satisfy Store: Redis, for deployments where several
// processes must see the same counters, and Memory, an in-process fallback
// used when no remote cache is configured. New picks one of them once, at
// startup, from Config.
//
// Values are opaque byte slices. Limiters serialize their own records.
package store

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels returned by Store.TTL. They match the raw values Redis
// reports for TTL on a key without expiry (-1) and on a missing key (-2).
const (
	TTLNone    time.Duration = -1
	TTLMissing time.Duration = -2
)

// ErrUnavailable wraps every failure talking to a backend: connection
// errors, timeouts, and malformed replies. Limiters treat it as a signal to
// fail open.
var ErrUnavailable = errors.New("store unavailable")

// Item is one entry of a batched MSet.
// A TTL of zero or less stores the value without expiry.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Store defines the key-value contract consumed by the rate limiters.
// Implementations must be safe for concurrent use and must never return an
// entry whose expiry has passed.
type Store interface {
	// Set stores value under key. A ttl of zero or less means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Del removes key and reports whether it existed.
	Del(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets a new ttl on an existing key. Returns false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key, TTLNone when the key has no
	// expiry, or TTLMissing when the key is absent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// MGet returns the values for keys in the same order. Missing keys yield nil.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// MSet stores every item. Items are independent; there is no cross-key atomicity.
	MSet(ctx context.Context, items ...Item) error

	// Close releases any resources held by the store.
	Close() error
}

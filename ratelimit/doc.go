// Package ratelimit decides whether an operation for a given identifier may
// proceed now. All limiter state lives in a store.Store, so the same code runs
// against the in-process fallback or a shared Redis.
//
// # Algorithms
//
// FixedWindow keeps a log of admitted request timestamps per key and counts
// the ones inside the trailing window. Exact, but the log costs one entry per
// admitted request (capped at MaxLedgerEntries).
//
// SlidingWindow splits the window into S sub-windows and keeps one counter
// per sub-window. Memory is S keys per identifier regardless of the limit.
// Because the oldest sub-window counts in full until it drops out, a trailing
// window can admit more than the limit around sub-window boundaries; S is a
// precision knob, not a correctness requirement.
//
// TokenBucket refills tokens lazily from elapsed time. It is the only
// algorithm that admits bursts above the steady rate, bounded by capacity.
//
// Distributed is FixedWindow under its own key namespace, meant for several
// processes sharing one Redis. It relies on the shared store for visibility
// and nothing else.
//
// Adaptive scales a FixedWindow limit down as a caller-supplied load signal rises.
//
// # Failure handling
//
// Checks never return errors. When the store fails or times out, the check
// fails open: the request is allowed, Result.FailedOpen is set, and the
// failure is logged. Configuration errors are reported by the constructors.
//
// # Concurrency
//
// Every check is read, recompute, write back, with no lock around a key. Two
// concurrent checks for the same identifier can both read the same state and
// both admit, so a burst of parallel requests may briefly exceed the limit.
// This is an accepted approximation. Deployments that need strict limits
// should replace the read-modify-write with an atomic server-side operation.
package ratelimit

package ratelimit

import "time"

// Result is the outcome of a single check.
//
// Remaining is never negative and is zero whenever Allowed is false.
// Immediately after a check, Remaining == max(0, Limit-TotalHits).
type Result struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Limit is the effective limit applied to this check (capacity for token buckets).
	Limit int

	// TotalHits is the usage counted against Limit after this check.
	TotalHits int

	// Remaining is how many more operations would currently be allowed.
	Remaining int

	// TimeToReset is how long until the oldest counted usage stops counting,
	// or for a denied token bucket check, until enough tokens have refilled.
	TimeToReset time.Duration

	// FailedOpen is set when the store failed and the check allowed by default.
	FailedOpen bool
}

// ResetAt returns the absolute time the current usage resets, relative to now.
func (r Result) ResetAt(now time.Time) time.Time {
	return now.Add(r.TimeToReset)
}

// RetryAfterSeconds returns TimeToReset rounded up to whole seconds, as used
// by the Retry-After header.
func (r Result) RetryAfterSeconds() int64 {
	if r.TimeToReset <= 0 {
		return 0
	}
	secs := int64(r.TimeToReset / time.Second)
	if r.TimeToReset%time.Second != 0 {
		secs++
	}
	return secs
}

func allowedResult(limit, hits int, reset time.Duration) Result {
	return Result{
		Allowed:     true,
		Limit:       limit,
		TotalHits:   hits,
		Remaining:   max(0, limit-hits),
		TimeToReset: reset,
	}
}

func deniedResult(limit, hits int, reset time.Duration) Result {
	return Result{
		Allowed:     false,
		Limit:       max(0, limit),
		TotalHits:   hits,
		Remaining:   0,
		TimeToReset: reset,
	}
}

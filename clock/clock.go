// Package clock provides the time source used by stores and limiters.
//
// Production code uses System. Tests use Manual so that window roll-over,
// token refill, and TTL expiry can be exercised without sleeping:
//
//	clk := clock.NewManual(time.Unix(0, 0))
//	fw, _ := ratelimit.NewFixedWindow(st, cfg, ratelimit.WithClock(clk))
//	clk.Advance(time.Second)
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
// Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by time.Now.
type System struct{}

// Now returns the wall-clock time.
func (System) Now() time.Time {
	return time.Now()
}

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored so
// the clock never runs backwards.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps the clock to t. Unlike Advance it may move time backwards;
// use it to position a test before the first call.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Or returns c, or System when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhalm/canonlog"
	"golang.org/x/time/rate"

	"github.com/nhalm/quota/clock"
	"github.com/nhalm/quota/store"
)

// Algorithm names, used in store keys and metric labels.
const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
	AlgorithmDistributed   = "distributed"
	AlgorithmAdaptive      = "adaptive"
)

// Limiter is the contract shared by every algorithm.
type Limiter interface {
	// Check records an attempt for identifier and reports whether it is allowed.
	// It never fails: store errors produce an allowed, FailedOpen result.
	Check(ctx context.Context, identifier string) Result

	// Reset clears all state for identifier.
	Reset(ctx context.Context, identifier string) error

	// Name returns the limiter name embedded in its keys.
	Name() string

	// Limit returns the configured limit (capacity for token buckets).
	Limit() int
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
	ledgerCap int
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger used for fail-open warnings (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records checks in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTimeout bounds the store calls made by one check. A timeout fails open
// like any other store error. Zero leaves the caller's context untouched.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLedgerCap overrides MaxLedgerEntries for timestamp logs.
func WithLedgerCap(n int) Option {
	return func(o *options) {
		o.ledgerCap = n
	}
}

func buildOptions(opts []Option) options {
	o := options{ledgerCap: MaxLedgerEntries}
	for _, opt := range opts {
		opt(&o)
	}
	o.clock = clock.Or(o.clock)
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.ledgerCap <= 0 {
		o.ledgerCap = MaxLedgerEntries
	}
	return o
}

// base carries what every algorithm shares: naming, time, and the fail-open path.
type base struct {
	name      string
	algorithm string
	store     store.Store
	ledger    *Ledger
	opts      options
	warn      *rate.Limiter
}

func newBase(st store.Store, name, algorithm string, opts []Option) base {
	o := buildOptions(opts)
	return base{
		name:      name,
		algorithm: algorithm,
		store:     st,
		ledger:    NewLedger(st, o.ledgerCap),
		opts:      o,
		// At most a burst of 5 warnings, then one per second, per limiter.
		warn: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Name returns the limiter name.
func (b *base) Name() string {
	return b.name
}

func (b *base) now() time.Time {
	return b.opts.clock.Now()
}

func (b *base) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opts.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.opts.timeout)
}

// key builds "<algorithm>:<name>:<identifier>[:<suffix>...]".
func (b *base) key(identifier string, suffix ...string) string {
	var sb strings.Builder
	sb.Grow(len(b.algorithm) + len(b.name) + len(identifier) + 2 + 12*len(suffix))
	sb.WriteString(b.algorithm)
	sb.WriteByte(':')
	sb.WriteString(b.name)
	sb.WriteByte(':')
	sb.WriteString(identifier)
	for _, s := range suffix {
		sb.WriteByte(':')
		sb.WriteString(s)
	}
	return sb.String()
}

func (b *base) record(start time.Time, res Result) {
	b.opts.metrics.observe(b.name, b.algorithm, res, b.now().Sub(start))
}

// failOpen logs err and returns an allowed result charged as a single hit.
func (b *base) failOpen(ctx context.Context, start time.Time, identifier string, limit int, reset time.Duration, err error) Result {
	err = fmt.Errorf("ratelimit %s: %w", b.name, err)

	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
		canonlog.InfoAdd(ctx, "ratelimit_fail_open", true)
	}
	if b.warn.Allow() {
		b.opts.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
			"limiter", b.name,
			"algorithm", b.algorithm,
			"identifier", identifier,
			"error", err,
		)
	}
	b.opts.metrics.storeError(b.name)

	res := allowedResult(limit, 1, reset)
	res.FailedOpen = true
	b.record(start, res)
	return res
}

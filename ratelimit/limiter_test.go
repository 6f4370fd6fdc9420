package ratelimit_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nhalm/quota/ratelimit"
	"github.com/nhalm/quota/store"
)

func newAllLimiters(t *testing.T, st store.Store, opts ...ratelimit.Option) []ratelimit.Limiter {
	t.Helper()
	window := ratelimit.WindowConfig{Name: "api", Limit: 5, Window: time.Minute}

	fw, err := ratelimit.NewFixedWindow(st, window, opts...)
	if err != nil {
		t.Fatal(err)
	}
	sw, err := ratelimit.NewSlidingWindow(st, window, opts...)
	if err != nil {
		t.Fatal(err)
	}
	tb, err := ratelimit.NewTokenBucket(st, ratelimit.TokenBucketConfig{Name: "api", Capacity: 5, RefillRate: 1}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	d, err := ratelimit.NewDistributed(st, window, opts...)
	if err != nil {
		t.Fatal(err)
	}
	a, err := ratelimit.NewAdaptive(st, ratelimit.AdaptiveConfig{Name: "api", Limit: 5, Window: time.Minute, Factor: 0.5}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return []ratelimit.Limiter{fw, sw, tb, d, a}
}

func TestLimiters_FailOpen(t *testing.T) {
	st := &failingStore{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	for _, l := range newAllLimiters(t, st, ratelimit.WithLogger(logger)) {
		res := l.Check(context.Background(), "k")
		if !res.Allowed {
			t.Errorf("%T: expected fail-open admission", l)
		}
		if !res.FailedOpen {
			t.Errorf("%T: expected FailedOpen", l)
		}
		if res.TotalHits != 1 || res.Remaining != 4 {
			t.Errorf("%T: hits=%d remaining=%d, want 1 and 4", l, res.TotalHits, res.Remaining)
		}
	}

	if st.calls.Load() == 0 {
		t.Error("expected the store to be called")
	}
	if !strings.Contains(logs.String(), "rate limit store unavailable") {
		t.Errorf("expected a fail-open warning, got %q", logs.String())
	}
}

func TestLimiters_FailOpenWarningsAreThrottled(t *testing.T) {
	st := &failingStore{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{Name: "api", Limit: 5, Window: time.Minute}, ratelimit.WithLogger(logger))
	for range 100 {
		fw.Check(context.Background(), "k")
	}

	if n := strings.Count(logs.String(), "rate limit store unavailable"); n == 0 || n >= 100 {
		t.Errorf("expected throttled warnings, got %d", n)
	}
}

func TestLimiters_ResetSurfacesStoreErrors(t *testing.T) {
	for _, l := range newAllLimiters(t, &failingStore{}) {
		if err := l.Reset(context.Background(), "k"); err == nil {
			t.Errorf("%T: expected Reset to report the store error", l)
		}
	}
}

func TestLimiters_ResetIsIdempotent(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	for _, l := range newAllLimiters(t, st, ratelimit.WithClock(clk)) {
		l.Check(ctx, "k")
		for i := range 3 {
			if err := l.Reset(ctx, "k"); err != nil {
				t.Errorf("%T: Reset %d: %v", l, i, err)
			}
		}
		res := l.Check(ctx, "k")
		if !res.Allowed || res.TotalHits != 1 {
			t.Errorf("%T: after reset allowed=%v hits=%d", l, res.Allowed, res.TotalHits)
		}
	}
}

func TestLimiters_TimeoutFailsOpen(t *testing.T) {
	st := &stalledStore{}
	const timeout = 20 * time.Millisecond
	logger := slog.New(slog.DiscardHandler)

	for _, l := range newAllLimiters(t, st, ratelimit.WithTimeout(timeout), ratelimit.WithLogger(logger)) {
		start := time.Now()
		res := l.Check(context.Background(), "k")
		elapsed := time.Since(start)

		if !res.Allowed || !res.FailedOpen {
			t.Errorf("%T: allowed=%v failedOpen=%v, want both true", l, res.Allowed, res.FailedOpen)
		}
		if elapsed > time.Second {
			t.Errorf("%T: check took %s with a %s timeout", l, elapsed, timeout)
		}
	}

	if st.calls.Load() == 0 {
		t.Error("expected the store to be called")
	}
}

func TestLimiters_TimeoutNotHitOnFastStore(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st,
		ratelimit.WindowConfig{Name: "api", Limit: 5, Window: time.Minute},
		ratelimit.WithClock(clk),
		ratelimit.WithTimeout(50*time.Millisecond),
	)

	res := fw.Check(context.Background(), "k")
	if !res.Allowed || res.FailedOpen {
		t.Errorf("fast store: allowed=%v failedOpen=%v", res.Allowed, res.FailedOpen)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := ratelimit.NewMetrics(reg)
	st, clk := newTestStore(t)
	ctx := context.Background()

	fw, _ := ratelimit.NewFixedWindow(st,
		ratelimit.WindowConfig{Name: "api", Limit: 1, Window: time.Minute},
		ratelimit.WithClock(clk), ratelimit.WithMetrics(m))
	fw.Check(ctx, "k")
	fw.Check(ctx, "k")

	broken, _ := ratelimit.NewFixedWindow(&failingStore{},
		ratelimit.WindowConfig{Name: "broken", Limit: 1, Window: time.Minute},
		ratelimit.WithMetrics(m), ratelimit.WithLogger(slog.New(slog.DiscardHandler)))
	broken.Check(ctx, "k")

	tests := []struct {
		metric string
		labels map[string]string
		want   float64
	}{
		{"quota_checks_total", map[string]string{"limiter": "api", "algorithm": "fixed_window", "result": "allowed"}, 1},
		{"quota_checks_total", map[string]string{"limiter": "api", "algorithm": "fixed_window", "result": "denied"}, 1},
		{"quota_checks_total", map[string]string{"limiter": "broken", "algorithm": "fixed_window", "result": "fail_open"}, 1},
		{"quota_store_errors_total", map[string]string{"limiter": "broken"}, 1},
		{"quota_check_duration_seconds", map[string]string{"algorithm": "fixed_window"}, 3},
	}

	for _, tt := range tests {
		if got := gathered(t, reg, tt.metric, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
		}
	}

	expected := `
# HELP quota_store_errors_total Total number of checks that failed open because the store was unavailable
# TYPE quota_store_errors_total counter
quota_store_errors_total{limiter="broken"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "quota_store_errors_total"); err != nil {
		t.Error(err)
	}
}

// gathered returns a counter value, or a histogram's sample count.
func gathered(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ratelimit.IPKey("10.0.0.1"), "ip:10.0.0.1"},
		{ratelimit.UserKey("42"), "user:42"},
		{ratelimit.PathKey("10.0.0.1", "/v1/upload"), "path:10.0.0.1:/v1/upload"},
		{ratelimit.GlobalKey, "global"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st,
		ratelimit.WindowConfig{Name: "api", Limit: 1, Window: time.Minute},
		ratelimit.WithClock(clk), ratelimit.WithMetrics(nil))
	if !fw.Check(context.Background(), "k").Allowed {
		t.Error("expected allowed")
	}
}

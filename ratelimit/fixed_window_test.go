package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhalm/quota/ratelimit"
)

func TestFixedWindow_Scenario(t *testing.T) {
	st, clk := newTestStore(t)
	fw, err := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  2,
		Window: time.Second,
	}, ratelimit.WithClock(clk))
	if err != nil {
		t.Fatalf("NewFixedWindow: %v", err)
	}
	ctx := context.Background()

	steps := []struct {
		at            time.Duration
		wantAllowed   bool
		wantRemaining int
	}{
		{0, true, 1},
		{100 * time.Millisecond, true, 0},
		{200 * time.Millisecond, false, 0},
		{1001 * time.Millisecond, true, 0},
	}

	for i, s := range steps {
		clk.Set(epoch.Add(s.at))
		res := fw.Check(ctx, "client")
		if res.Allowed != s.wantAllowed {
			t.Errorf("step %d (t=%s): allowed = %v, want %v", i, s.at, res.Allowed, s.wantAllowed)
		}
		if res.Remaining != s.wantRemaining {
			t.Errorf("step %d (t=%s): remaining = %d, want %d", i, s.at, res.Remaining, s.wantRemaining)
		}
		if res.Limit != 2 {
			t.Errorf("step %d: limit = %d, want 2", i, res.Limit)
		}
	}
}

func TestFixedWindow_TimeToReset(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  1,
		Window: time.Second,
	}, ratelimit.WithClock(clk))
	ctx := context.Background()

	res := fw.Check(ctx, "client")
	if res.TimeToReset != time.Second {
		t.Errorf("first check: TimeToReset = %s, want 1s", res.TimeToReset)
	}

	clk.Advance(300 * time.Millisecond)
	res = fw.Check(ctx, "client")
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.TimeToReset != 700*time.Millisecond {
		t.Errorf("denied check: TimeToReset = %s, want 700ms", res.TimeToReset)
	}
	if res.RetryAfterSeconds() != 1 {
		t.Errorf("RetryAfterSeconds = %d, want 1", res.RetryAfterSeconds())
	}
	if got := res.ResetAt(clk.Now()); !got.Equal(epoch.Add(time.Second)) {
		t.Errorf("ResetAt = %s, want %s", got, epoch.Add(time.Second))
	}
}

func TestFixedWindow_IdentifiersAreIndependent(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  1,
		Window: time.Minute,
	}, ratelimit.WithClock(clk))
	ctx := context.Background()

	if !fw.Check(ctx, "a").Allowed {
		t.Error("a: first check should be allowed")
	}
	if fw.Check(ctx, "a").Allowed {
		t.Error("a: second check should be denied")
	}
	if !fw.Check(ctx, "b").Allowed {
		t.Error("b: first check should be allowed")
	}
}

func TestFixedWindow_DeniedDoesNotExtendWindow(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  1,
		Window: time.Second,
	}, ratelimit.WithClock(clk))
	ctx := context.Background()

	fw.Check(ctx, "client")
	for range 5 {
		clk.Advance(150 * time.Millisecond)
		if fw.Check(ctx, "client").Allowed {
			t.Fatal("expected denial inside the window")
		}
	}

	clk.Set(epoch.Add(1001 * time.Millisecond))
	if !fw.Check(ctx, "client").Allowed {
		t.Error("expected admission once the first request left the window")
	}
}

func TestFixedWindow_Reset(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  1,
		Window: time.Hour,
	}, ratelimit.WithClock(clk))
	ctx := context.Background()

	fw.Check(ctx, "client")
	if fw.Check(ctx, "client").Allowed {
		t.Fatal("expected denial before reset")
	}

	for i := range 2 {
		if err := fw.Reset(ctx, "client"); err != nil {
			t.Fatalf("Reset %d: %v", i, err)
		}
	}

	res := fw.Check(ctx, "client")
	if !res.Allowed || res.TotalHits != 1 {
		t.Errorf("after reset: allowed=%v hits=%d, want allowed with 1 hit", res.Allowed, res.TotalHits)
	}
}

func TestFixedWindow_StoresUnderAlgorithmNamespace(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  5,
		Window: time.Minute,
	}, ratelimit.WithClock(clk))
	ctx := context.Background()

	fw.Check(ctx, "ip:10.0.0.1")

	ok, err := st.Exists(ctx, "fixed_window:api:ip:10.0.0.1")
	if err != nil || !ok {
		t.Errorf("expected key fixed_window:api:ip:10.0.0.1, exists=%v err=%v", ok, err)
	}
	ttl, _ := st.TTL(ctx, "fixed_window:api:ip:10.0.0.1")
	if ttl != 2*time.Minute {
		t.Errorf("TTL = %s, want 2m", ttl)
	}
}

func TestFixedWindow_RemainingInvariant(t *testing.T) {
	st, clk := newTestStore(t)
	fw, _ := ratelimit.NewFixedWindow(st, ratelimit.WindowConfig{
		Name:   "api",
		Limit:  3,
		Window: time.Second,
	}, ratelimit.WithClock(clk))
	ctx := context.Background()

	for i := range 10 {
		clk.Advance(70 * time.Millisecond)
		res := fw.Check(ctx, "client")
		if res.Remaining < 0 {
			t.Fatalf("check %d: negative remaining %d", i, res.Remaining)
		}
		if !res.Allowed && res.Remaining != 0 {
			t.Errorf("check %d: denied with remaining %d", i, res.Remaining)
		}
		if want := max(0, res.Limit-res.TotalHits); res.Remaining != want {
			t.Errorf("check %d: remaining = %d, want %d", i, res.Remaining, want)
		}
	}
}

func TestNewFixedWindow_InvalidConfig(t *testing.T) {
	st, _ := newTestStore(t)

	tests := []struct {
		name string
		cfg  ratelimit.WindowConfig
		opts []ratelimit.Option
	}{
		{"missing name", ratelimit.WindowConfig{Limit: 1, Window: time.Second}, nil},
		{"zero limit", ratelimit.WindowConfig{Name: "x", Limit: 0, Window: time.Second}, nil},
		{"negative limit", ratelimit.WindowConfig{Name: "x", Limit: -1, Window: time.Second}, nil},
		{"zero window", ratelimit.WindowConfig{Name: "x", Limit: 1}, nil},
		{"sub-millisecond window", ratelimit.WindowConfig{Name: "x", Limit: 1, Window: time.Microsecond}, nil},
		{"limit above ledger cap", ratelimit.WindowConfig{Name: "x", Limit: 11, Window: time.Second}, []ratelimit.Option{ratelimit.WithLedgerCap(10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ratelimit.NewFixedWindow(st, tt.cfg, tt.opts...)
			if !errors.Is(err, ratelimit.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

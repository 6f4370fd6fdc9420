package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nhalm/quota/clock"
)

func newTestMemory(t *testing.T, cfg MemoryConfig) (*Memory, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	cfg.Clock = clk
	m := NewMemory(cfg)
	t.Cleanup(func() { m.Close() })
	return m, clk
}

func TestMemory_SetGet(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Memory, *clock.Manual)
		key     string
		want    []byte
		wantOK  bool
		wantErr bool
	}{
		{
			name:   "missing key",
			key:    "test:missing",
			wantOK: false,
		},
		{
			name: "stored value",
			setup: func(m *Memory, _ *clock.Manual) {
				m.Set(context.Background(), "test:key", []byte("v1"), time.Minute)
			},
			key:    "test:key",
			want:   []byte("v1"),
			wantOK: true,
		},
		{
			name: "no ttl never expires",
			setup: func(m *Memory, clk *clock.Manual) {
				m.Set(context.Background(), "test:key", []byte("v1"), 0)
				clk.Advance(24 * time.Hour)
			},
			key:    "test:key",
			want:   []byte("v1"),
			wantOK: true,
		},
		{
			name: "expired value is absent",
			setup: func(m *Memory, clk *clock.Manual) {
				m.Set(context.Background(), "test:key", []byte("v1"), time.Second)
				clk.Advance(time.Second)
			},
			key:    "test:key",
			wantOK: false,
		},
		{
			name: "overwrite replaces value",
			setup: func(m *Memory, _ *clock.Manual) {
				m.Set(context.Background(), "test:key", []byte("v1"), time.Minute)
				m.Set(context.Background(), "test:key", []byte("v2"), time.Minute)
			},
			key:    "test:key",
			want:   []byte("v2"),
			wantOK: true,
		},
		{
			name: "empty value is present",
			setup: func(m *Memory, _ *clock.Manual) {
				m.Set(context.Background(), "test:key", nil, time.Minute)
			},
			key:    "test:key",
			want:   []byte{},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clk := newTestMemory(t, MemoryConfig{})
			if tt.setup != nil {
				tt.setup(m, clk)
			}

			got, ok, err := m.Get(context.Background(), tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("Get() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !bytes.Equal(got, tt.want) {
				t.Errorf("Get() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m, _ := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	value := []byte("abc")
	m.Set(ctx, "test:key", value, time.Minute)
	value[0] = 'x'

	got, _, _ := m.Get(ctx, "test:key")
	if string(got) != "abc" {
		t.Fatalf("stored value changed through caller slice: %q", got)
	}

	got[0] = 'y'
	again, _, _ := m.Get(ctx, "test:key")
	if string(again) != "abc" {
		t.Errorf("stored value changed through returned slice: %q", again)
	}
}

func TestMemory_Del(t *testing.T) {
	m, clk := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	m.Set(ctx, "test:live", []byte("1"), time.Minute)
	m.Set(ctx, "test:stale", []byte("1"), time.Second)
	clk.Advance(2 * time.Second)

	tests := []struct {
		key  string
		want bool
	}{
		{key: "test:live", want: true},
		{key: "test:live", want: false},
		{key: "test:stale", want: false},
		{key: "test:missing", want: false},
	}

	for _, tt := range tests {
		got, err := m.Del(ctx, tt.key)
		if err != nil {
			t.Fatalf("Del(%s) error = %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("Del(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMemory_Exists(t *testing.T) {
	m, clk := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	m.Set(ctx, "test:key", []byte("1"), time.Second)

	if ok, _ := m.Exists(ctx, "test:key"); !ok {
		t.Error("Exists() = false before expiry, want true")
	}

	clk.Advance(time.Second)

	if ok, _ := m.Exists(ctx, "test:key"); ok {
		t.Error("Exists() = true after expiry, want false")
	}
}

func TestMemory_ExpireAndTTL(t *testing.T) {
	m, clk := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	if ttl, _ := m.TTL(ctx, "test:missing"); ttl != TTLMissing {
		t.Errorf("TTL(missing) = %v, want %v", ttl, TTLMissing)
	}

	m.Set(ctx, "test:forever", []byte("1"), 0)
	if ttl, _ := m.TTL(ctx, "test:forever"); ttl != TTLNone {
		t.Errorf("TTL(no expiry) = %v, want %v", ttl, TTLNone)
	}

	m.Set(ctx, "test:key", []byte("1"), 10*time.Second)
	clk.Advance(4 * time.Second)
	if ttl, _ := m.TTL(ctx, "test:key"); ttl != 6*time.Second {
		t.Errorf("TTL() = %v, want 6s", ttl)
	}

	ok, err := m.Expire(ctx, "test:key", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expire() = %v, %v, want true, nil", ok, err)
	}
	if ttl, _ := m.TTL(ctx, "test:key"); ttl != time.Minute {
		t.Errorf("TTL() after Expire = %v, want 1m", ttl)
	}

	if ok, _ := m.Expire(ctx, "test:missing", time.Minute); ok {
		t.Error("Expire(missing) = true, want false")
	}

	ok, _ = m.Expire(ctx, "test:key", 0)
	if !ok {
		t.Error("Expire(key, 0) = false, want true")
	}
	if exists, _ := m.Exists(ctx, "test:key"); exists {
		t.Error("key should be removed by non-positive Expire")
	}
}

func TestMemory_MGetMSet(t *testing.T) {
	m, clk := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	err := m.MSet(ctx,
		Item{Key: "a", Value: []byte("1"), TTL: time.Minute},
		Item{Key: "b", Value: []byte("2"), TTL: time.Second},
		Item{Key: "c", Value: []byte("3")},
	)
	if err != nil {
		t.Fatalf("MSet() error = %v", err)
	}

	clk.Advance(time.Second)

	got, err := m.MGet(ctx, "a", "missing", "b", "c")
	if err != nil {
		t.Fatalf("MGet() error = %v", err)
	}

	want := [][]byte{[]byte("1"), nil, nil, []byte("3")}
	if len(got) != len(want) {
		t.Fatalf("MGet() returned %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if (got[i] == nil) != (want[i] == nil) || !bytes.Equal(got[i], want[i]) {
			t.Errorf("MGet()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemory_OpportunisticSweep(t *testing.T) {
	m, clk := newTestMemory(t, MemoryConfig{SweepInterval: time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Set(ctx, fmt.Sprintf("test:%d", i), []byte("1"), time.Second)
	}
	m.Set(ctx, "test:keep", []byte("1"), time.Hour)

	clk.Advance(30 * time.Second)
	m.Exists(ctx, "test:keep")
	if got := m.Len(); got != 11 {
		t.Fatalf("Len() before sweep interval = %d, want 11", got)
	}

	clk.Advance(30 * time.Second)
	m.Exists(ctx, "test:keep")
	if got := m.Len(); got != 1 {
		t.Errorf("Len() after sweep = %d, want 1", got)
	}
}

func TestMemory_MaxEntries(t *testing.T) {
	m, _ := newTestMemory(t, MemoryConfig{MaxEntries: 3})
	ctx := context.Background()

	m.Set(ctx, "soon", []byte("1"), time.Second)
	m.Set(ctx, "later", []byte("1"), time.Minute)
	m.Set(ctx, "forever", []byte("1"), 0)
	m.Set(ctx, "new", []byte("1"), time.Hour)

	if got := m.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if ok, _ := m.Exists(ctx, "soon"); ok {
		t.Error("entry closest to expiry should have been evicted")
	}
	for _, key := range []string{"later", "forever", "new"} {
		if ok, _ := m.Exists(ctx, key); !ok {
			t.Errorf("%s should still exist", key)
		}
	}

	// Overwriting an existing key never evicts.
	m.Set(ctx, "new", []byte("2"), time.Hour)
	if got := m.Len(); got != 3 {
		t.Errorf("Len() after overwrite = %d, want 3", got)
	}
}

func TestMemory_EvictionOrder(t *testing.T) {
	m, _ := newTestMemory(t, MemoryConfig{MaxEntries: 100})
	ctx := context.Background()

	for i := range 100 {
		n := i * 37 % 100
		m.Set(ctx, fmt.Sprintf("old:%d", n), []byte("1"), time.Duration(n+1)*time.Second)
	}
	for i := range 50 {
		m.Set(ctx, fmt.Sprintf("new:%d", i), []byte("1"), time.Hour)
	}

	if got := m.Len(); got != 100 {
		t.Fatalf("Len() = %d, want 100", got)
	}
	for n := range 100 {
		ok, _ := m.Exists(ctx, fmt.Sprintf("old:%d", n))
		if want := n >= 50; ok != want {
			t.Errorf("old:%d exists = %v, want %v", n, ok, want)
		}
	}
}

func TestMemory_EvictionFollowsExpire(t *testing.T) {
	m, _ := newTestMemory(t, MemoryConfig{MaxEntries: 3})
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Second)
	m.Set(ctx, "b", []byte("1"), time.Minute)
	m.Set(ctx, "c", []byte("1"), time.Hour)
	m.Expire(ctx, "a", 2*time.Hour)
	m.Set(ctx, "d", []byte("1"), time.Hour)

	if ok, _ := m.Exists(ctx, "b"); ok {
		t.Error("b is now closest to expiry and should have been evicted")
	}
	if ok, _ := m.Exists(ctx, "a"); !ok {
		t.Error("a was extended and should still exist")
	}

	m.Del(ctx, "c")
	m.Set(ctx, "e", []byte("1"), time.Hour)
	if got := m.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
}

func TestMemory_FullInsertEvictsOneWithoutSweeping(t *testing.T) {
	m, clk := newTestMemory(t, MemoryConfig{MaxEntries: 3, SweepInterval: time.Minute})
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Second)
	m.Set(ctx, "b", []byte("1"), 2*time.Second)
	m.Set(ctx, "c", []byte("1"), 3*time.Second)
	clk.Advance(10 * time.Second)

	m.Set(ctx, "d", []byte("1"), time.Hour)
	if got := m.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3 (one eviction, expired b and c left for the sweep)", got)
	}

	clk.Advance(time.Minute)
	m.Exists(ctx, "d")
	if got := m.Len(); got != 1 {
		t.Errorf("Len() after sweep = %d, want 1", got)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	defer m.Close()

	ctx := context.Background()
	goroutines := 10
	opsPerGoroutine := 50

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("test:%d:%d", id, j%5)
				if err := m.Set(ctx, key, []byte("v"), time.Minute); err != nil {
					t.Errorf("Set() error = %v", err)
				}
				if _, _, err := m.Get(ctx, key); err != nil {
					t.Errorf("Get() error = %v", err)
				}
			}
		}(i)
	}

	wg.Wait()

	if got := m.Len(); got != goroutines*5 {
		t.Errorf("Len() = %d, want %d", got, goroutines*5)
	}
}

func TestMemory_Close(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()
	m.Set(ctx, "test:key", []byte("1"), time.Minute)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := m.Len(); got != 0 {
		t.Errorf("Len() after Close = %d, want 0", got)
	}
}

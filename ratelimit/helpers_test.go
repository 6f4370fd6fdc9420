package ratelimit_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhalm/quota/clock"
	"github.com/nhalm/quota/store"
)

// epoch is aligned to a whole second so sub-window boundaries are predictable.
var epoch = time.UnixMilli(1_700_000_000_000)

func newTestStore(t *testing.T) (*store.Memory, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	st := store.NewMemory(store.MemoryConfig{Clock: clk})
	t.Cleanup(func() { st.Close() })
	return st, clk
}

var errBackendDown = errors.New("connection refused")

// failingStore fails every call with an ErrUnavailable-wrapped error.
type failingStore struct {
	calls atomic.Int64
}

func (f *failingStore) fail() error {
	f.calls.Add(1)
	return errors.Join(store.ErrUnavailable, errBackendDown)
}

func (f *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return f.fail()
}

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.fail()
}

func (f *failingStore) Del(context.Context, string) (bool, error) {
	return false, f.fail()
}

func (f *failingStore) Exists(context.Context, string) (bool, error) {
	return false, f.fail()
}

func (f *failingStore) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, f.fail()
}

func (f *failingStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, f.fail()
}

func (f *failingStore) MGet(context.Context, ...string) ([][]byte, error) {
	return nil, f.fail()
}

func (f *failingStore) MSet(context.Context, ...store.Item) error {
	return f.fail()
}

func (f *failingStore) Close() error {
	return nil
}

var _ store.Store = (*failingStore)(nil)

// stalledStore blocks every call until ctx is done.
type stalledStore struct {
	calls atomic.Int64
}

func (s *stalledStore) wait(ctx context.Context) error {
	s.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledStore) Set(ctx context.Context, _ string, _ []byte, _ time.Duration) error {
	return s.wait(ctx)
}

func (s *stalledStore) Get(ctx context.Context, _ string) ([]byte, bool, error) {
	return nil, false, s.wait(ctx)
}

func (s *stalledStore) Del(ctx context.Context, _ string) (bool, error) {
	return false, s.wait(ctx)
}

func (s *stalledStore) Exists(ctx context.Context, _ string) (bool, error) {
	return false, s.wait(ctx)
}

func (s *stalledStore) Expire(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return false, s.wait(ctx)
}

func (s *stalledStore) TTL(ctx context.Context, _ string) (time.Duration, error) {
	return 0, s.wait(ctx)
}

func (s *stalledStore) MGet(ctx context.Context, _ ...string) ([][]byte, error) {
	return nil, s.wait(ctx)
}

func (s *stalledStore) MSet(ctx context.Context, _ ...store.Item) error {
	return s.wait(ctx)
}

func (s *stalledStore) Close() error {
	return nil
}

var _ store.Store = (*stalledStore)(nil)

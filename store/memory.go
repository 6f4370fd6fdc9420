package store

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/nhalm/quota/clock"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultMaxEntries    = 100_000
)

type memoryEntry struct {
	key       string
	value     []byte
	createdAt time.Time
	expiresAt time.Time // zero means no expiry
	index     int       // position in Memory.queue
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryConfig tunes the in-process store.
type MemoryConfig struct {
	// MaxEntries bounds the number of stored keys (default: 100000). When full,
	// the entry closest to expiry is evicted, so expired entries go first.
	MaxEntries int `yaml:"max_entries" validate:"gte=0"`

	// SweepInterval is the minimum time between full expiry sweeps (default: 30s).
	// Sweeps only run as a side effect of a store call.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`

	// Clock overrides the time source. Used by tests.
	Clock clock.Clock `yaml:"-"`
}

// Memory is an in-process implementation of Store using a map with mutex protection.
//
// WARNING: counters kept here are private to one process. With several
// instances behind a load balancer each one enforces its own limits, so a
// client can exceed the intended rate by spreading requests. Use Redis for
// multi-instance deployments.
//
// Memory runs no goroutines. Expired entries are dropped lazily when read,
// and a sweep runs at most once per SweepInterval whenever the store is touched.
// Entries are also kept in a min-heap ordered by expiry, so eviction and
// sweeping cost O(log n) per removed entry.
type Memory struct {
	mu            sync.Mutex
	entries       map[string]*memoryEntry
	queue         expiryQueue
	clock         clock.Clock
	maxEntries    int
	sweepInterval time.Duration
	lastSweep     time.Time
}

// NewMemory creates an in-process store.
func NewMemory(config MemoryConfig) *Memory {
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultMaxEntries
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	clk := clock.Or(config.Clock)
	return &Memory{
		entries:       make(map[string]*memoryEntry),
		clock:         clk,
		maxEntries:    config.MaxEntries,
		sweepInterval: config.SweepInterval,
		lastSweep:     clk.Now(),
	}
}

// Set stores a copy of value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	m.setLocked(now, key, value, ttl)
	return nil
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	entry := m.liveLocked(now, key)
	if entry == nil {
		return nil, false, nil
	}
	return clone(entry.value), true, nil
}

// Del removes key.
func (m *Memory) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	entry := m.liveLocked(now, key)
	if entry == nil {
		return false, nil
	}
	m.removeLocked(entry)
	return true, nil
}

// Exists reports whether key is present and unexpired.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	return m.liveLocked(now, key) != nil, nil
}

// Expire replaces the expiry of key. A ttl of zero or less removes the key,
// matching Redis semantics for non-positive EXPIRE values.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	entry := m.liveLocked(now, key)
	if entry == nil {
		return false, nil
	}
	if ttl <= 0 {
		m.removeLocked(entry)
		return true, nil
	}
	entry.expiresAt = now.Add(ttl)
	heap.Fix(&m.queue, entry.index)
	return true, nil
}

// TTL returns the remaining lifetime of key.
func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	entry := m.liveLocked(now, key)
	if entry == nil {
		return TTLMissing, nil
	}
	if entry.expiresAt.IsZero() {
		return TTLNone, nil
	}
	return entry.expiresAt.Sub(now), nil
}

// MGet returns copies of the values for keys, nil for missing ones.
func (m *Memory) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	values := make([][]byte, len(keys))
	for i, key := range keys {
		if entry := m.liveLocked(now, key); entry != nil {
			values[i] = clone(entry.value)
		}
	}
	return values, nil
}

// MSet stores every item.
func (m *Memory) MSet(_ context.Context, items ...Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.touch()
	for _, item := range items {
		m.setLocked(now, item.Key, item.Value, item.TTL)
	}
	return nil
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]*memoryEntry)
	m.queue = nil
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// touch returns the current time and sweeps expired entries if the sweep
// interval has elapsed. Caller must hold the lock.
func (m *Memory) touch() time.Time {
	now := m.clock.Now()
	if now.Sub(m.lastSweep) >= m.sweepInterval {
		m.sweepLocked(now)
	}
	return now
}

// sweepLocked removes every expired entry. Expired entries sit at the top
// of the queue, so it stops at the first live one. Caller must hold the lock.
func (m *Memory) sweepLocked(now time.Time) {
	for len(m.queue) > 0 && m.queue[0].expired(now) {
		m.removeLocked(m.queue[0])
	}
	m.lastSweep = now
}

// liveLocked returns the entry for key, deleting it if it has expired.
// Caller must hold the lock.
func (m *Memory) liveLocked(now time.Time, key string) *memoryEntry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if entry.expired(now) {
		m.removeLocked(entry)
		return nil
	}
	return entry
}

func (m *Memory) setLocked(now time.Time, key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if entry, ok := m.entries[key]; ok {
		entry.value = clone(value)
		entry.createdAt = now
		entry.expiresAt = expiresAt
		heap.Fix(&m.queue, entry.index)
		return
	}

	if len(m.entries) >= m.maxEntries {
		m.evictLocked()
	}
	entry := &memoryEntry{
		key:       key,
		value:     clone(value),
		createdAt: now,
		expiresAt: expiresAt,
	}
	m.entries[key] = entry
	heap.Push(&m.queue, entry)
}

// evictLocked drops the entry that would expire soonest. Entries without
// expiry are only chosen when nothing else is left, oldest first.
func (m *Memory) evictLocked() {
	if len(m.queue) == 0 {
		return
	}
	m.removeLocked(m.queue[0])
}

func (m *Memory) removeLocked(entry *memoryEntry) {
	heap.Remove(&m.queue, entry.index)
	delete(m.entries, entry.key)
}

// expiryQueue implements heap.Interface over entries, soonest expiry first.
type expiryQueue []*memoryEntry

func (q expiryQueue) Len() int { return len(q) }

func (q expiryQueue) Less(i, j int) bool { return evictsBefore(q[i], q[j]) }

func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x any) {
	entry := x.(*memoryEntry)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}

func evictsBefore(a, b *memoryEntry) bool {
	switch {
	case a.expiresAt.IsZero() && b.expiresAt.IsZero():
		return a.createdAt.Before(b.createdAt)
	case a.expiresAt.IsZero():
		return false
	case b.expiresAt.IsZero():
		return true
	default:
		return a.expiresAt.Before(b.expiresAt)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

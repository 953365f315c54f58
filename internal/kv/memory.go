package kv

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultMaxCost is the memory budget of a MemoryStore when none is given.
const DefaultMaxCost = 64 << 20

// entryOverhead approximates the per-entry bookkeeping cost in bytes.
const entryOverhead = 64

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// MemoryStore is an in-process Store backed by ristretto. It is local to one
// process, so counters and cache entries are not shared between replicas.
// Entries past their ttl are treated as absent even before ristretto evicts
// them, which keeps expiry exact under an injected clock.
type MemoryStore struct {
	cache *ristretto.Cache[string, memEntry]
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for simulated-time tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns a store bounded by maxCost bytes (DefaultMaxCost
// when <= 0).
func NewMemoryStore(maxCost int64, opts ...MemoryOption) (*MemoryStore, error) {
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}
	// NumCounters ~10x the expected item count, assuming ~1 KiB entries.
	c, err := ristretto.NewCache(&ristretto.Config[string, memEntry]{
		NumCounters: max(maxCost/1024*10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	s := &MemoryStore{cache: c, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.cache.Del(key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		return errors.New("kv: negative ttl")
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	cost := int64(len(key)+len(value)) + entryOverhead
	if !s.cache.SetWithTTL(key, e, cost, ttl) {
		return ErrNotAdmitted
	}
	// Make the write visible to the next Get.
	s.cache.Wait()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	_, ok := s.cache.Get(key)
	s.cache.Del(key)
	return ok, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}

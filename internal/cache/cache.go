// Package cache is the read-through response cache for successful Last.fm
// responses. Entries are raw upstream bodies stored in the CACHE namespace of
// the KV store. Store faults never reach the caller: a failed read is a miss
// and a failed write is dropped.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/kv"
)

const (
	// DefaultTTL is how long a cached response lives.
	DefaultTTL = time.Hour

	defaultMaxBodySize = 1 << 20 // 1 MB
)

// Store is a response cache over a namespaced KV store.
type Store struct {
	kv          kv.Store
	ttl         time.Duration
	maxBodySize int64
	logger      *slog.Logger

	OnHit        func()
	OnMiss       func()
	OnStore      func()
	OnSkip       func()
	OnPurge      func()
	OnStoreError func(op string)
	OnBodySize   func(float64)
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the default entry lifetime used by Put.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithMaxBodySize sets the maximum cacheable body in bytes. Larger bodies
// are served but not cached. Default: 1MB.
func WithMaxBodySize(n int64) Option {
	return func(s *Store) { s.maxBodySize = n }
}

// WithLogger sets the logger for debug and fault messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a cache over store, which should already be scoped to
// the CACHE namespace.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:          store,
		ttl:         DefaultTTL,
		maxBodySize: defaultMaxBodySize,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxBodySize returns the configured maximum cacheable body size.
func (s *Store) MaxBodySize() int64 { return s.maxBodySize }

// TTL returns the default entry lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns the cached body for key. Absence and read faults both report
// false.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.fault("cache_get", key, err)
		s.miss()
		return nil, false
	}
	if !ok {
		s.miss()
		return nil, false
	}
	if s.OnHit != nil {
		s.OnHit()
	}
	return []byte(v), true
}

func (s *Store) miss() {
	if s.OnMiss != nil {
		s.OnMiss()
	}
}

// Put stores body under key with the default TTL.
func (s *Store) Put(ctx context.Context, key string, body []byte) {
	s.Set(ctx, key, body, s.ttl)
}

// Set stores body under key. Empty bodies, oversize bodies and ttl <= 0 are
// skipped. Write faults are logged and dropped.
func (s *Store) Set(ctx context.Context, key string, body []byte, ttl time.Duration) {
	if ttl <= 0 || len(body) == 0 {
		return
	}
	if int64(len(body)) > s.maxBodySize {
		if s.OnSkip != nil {
			s.OnSkip()
		}
		s.logger.Debug("cache: body too large", "key", key, "body_size", len(body))
		return
	}
	if err := s.kv.Set(ctx, key, string(body), ttl); err != nil {
		s.fault("cache_set", key, err)
		return
	}

	if s.OnStore != nil {
		s.OnStore()
	}
	if s.OnBodySize != nil {
		s.OnBodySize(float64(len(body)))
	}
	s.logger.Debug("cache: stored", "key", key, "ttl", ttl, "body_size", len(body))
}

// Delete removes a single entry and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) bool {
	existed, err := s.kv.Delete(ctx, key)
	if err != nil {
		s.fault("cache_delete", key, err)
		return false
	}
	if !existed {
		return false
	}
	if s.OnPurge != nil {
		s.OnPurge()
	}
	s.logger.Debug("cache: purged", "key", key)
	return true
}

func (s *Store) fault(op, key string, err error) {
	s.logger.Warn("cache store fault", "op", op, "key", key, "error", err)
	if s.OnStoreError != nil {
		s.OnStoreError(op)
	}
}

// Package ratelimit implements a per-client fixed-window request counter on
// top of the KV store, with an in-process fallback for store outages.
//
// The counter is read and then written back as two separate store calls.
// Concurrent requests from one client can observe the same count and both
// pass, so the limit is soft: a burst may exceed it by the number of
// requests in flight. Every write refreshes the window TTL, which means the
// counter only resets once the client has been idle for a full window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/kv"
	"github.com/lastfmproxy/lastfmproxy/internal/redis"
)

// KeyPrefix prefixes every counter key inside the RATE_LIMIT namespace.
const KeyPrefix = "rate_limit:"

// ErrStoreUnavailable is returned by Allow under the failclosed policy when
// the counter store cannot be reached.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

const (
	defaultLimit  = 100
	defaultWindow = 60 * time.Second
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed bool
	// Count is the number of requests in the window including this one when
	// allowed, or the stored count when denied.
	Count     int64
	Limit     int64
	Remaining int64
	Window    time.Duration
	// Degraded is set when the store failed and the decision was made
	// without it.
	Degraded bool
}

// Limiter is a fixed-window counter keyed by client identifier.
type Limiter struct {
	store    kv.Store
	logger   *slog.Logger
	prefix   string
	policy   atomic.Value // config.FailurePolicy
	limit    atomic.Int64
	window   atomic.Int64 // nanoseconds
	fallback *InMemoryLimiter

	// OnStoreError is called with "ratelimit_get" or "ratelimit_set" for
	// every absorbed store fault.
	OnStoreError func(op string)
	// OnFallback is called for every decision made by the in-memory fallback.
	OnFallback func()
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimit sets requests per window. 0 disables limiting.
func WithLimit(n int64) Option {
	return func(l *Limiter) { l.limit.Store(n) }
}

// WithWindow sets the window length and counter TTL.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window.Store(int64(d)) }
}

// WithFailurePolicy selects behavior when the store is unreachable.
func WithFailurePolicy(p config.FailurePolicy) Option {
	return func(l *Limiter) { l.policy.Store(p) }
}

// WithLogger sets the logger for store faults.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// WithKeyPrefix overrides KeyPrefix.
func WithKeyPrefix(p string) Option {
	return func(l *Limiter) { l.prefix = p }
}

// WithFallback replaces the in-memory fallback limiter.
func WithFallback(f *InMemoryLimiter) Option {
	return func(l *Limiter) { l.fallback = f }
}

// NewLimiter returns a limiter over store, which should already be scoped to
// the RATE_LIMIT namespace. Defaults: 100 requests per 60s, passthrough.
func NewLimiter(store kv.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
		prefix: KeyPrefix,
	}
	l.limit.Store(defaultLimit)
	l.window.Store(int64(defaultWindow))
	l.policy.Store(config.FailurePolicyPassThrough)
	for _, o := range opts {
		o(l)
	}
	if l.fallback == nil {
		l.fallback = NewInMemoryLimiter()
	}
	return l
}

// FromConfig builds a limiter from the rate_limit config section.
func FromConfig(store kv.Store, cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	opts := []Option{
		WithLimit(cfg.Limit),
		WithWindow(config.MustParseDuration(cfg.Window, defaultWindow)),
		WithLogger(logger),
	}
	if cfg.FailurePolicy != "" {
		opts = append(opts, WithFailurePolicy(cfg.FailurePolicy))
	}
	if cfg.KeyPrefix != "" {
		opts = append(opts, WithKeyPrefix(cfg.KeyPrefix))
	}
	return NewLimiter(store, opts...)
}

// Update swaps limit, window and policy in place, for config reloads.
func (l *Limiter) Update(cfg config.RateLimitConfig) {
	l.limit.Store(cfg.Limit)
	l.window.Store(int64(config.MustParseDuration(cfg.Window, defaultWindow)))
	if cfg.FailurePolicy != "" {
		l.policy.Store(cfg.FailurePolicy)
	}
}

func (l *Limiter) Limit() int64 { return l.limit.Load() }
func (l *Limiter) Window() time.Duration { return time.Duration(l.window.Load()) }

func (l *Limiter) failurePolicy() config.FailurePolicy {
	return l.policy.Load().(config.FailurePolicy)
}

// Allow counts one request from client and reports whether it may proceed.
// A denied request is a Result with Allowed=false, not an error. The only
// error is ErrStoreUnavailable under the failclosed policy.
func (l *Limiter) Allow(ctx context.Context, client string) (*Result, error) {
	limit := l.Limit()
	window := l.Window()
	if limit <= 0 {
		return &Result{Allowed: true, Limit: 0, Window: window}, nil
	}

	key := l.prefix + client

	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.storeFault("ratelimit_get", key, err)
		if res, handled, ferr := l.degrade(client, limit, window, err); handled {
			return res, ferr
		}
	}

	count := parseCount(raw, ok)
	if count >= limit {
		return &Result{Allowed: false, Count: count, Limit: limit, Window: window}, nil
	}

	count++
	if err := l.store.Set(ctx, key, strconv.FormatInt(count, 10), window); err != nil {
		l.storeFault("ratelimit_set", key, err)
	}

	return &Result{
		Allowed:   true,
		Count:     count,
		Limit:     limit,
		Remaining: limit - count,
		Window:    window,
	}, nil
}

// degrade applies the failure policy to a read fault. handled=false means
// continue with a count of zero.
func (l *Limiter) degrade(client string, limit int64, window time.Duration, err error) (*Result, bool, error) {
	if !redis.IsConnectivityErr(err) {
		return nil, false, nil
	}
	switch l.failurePolicy() {
	case config.FailurePolicyFailClosed:
		return nil, true, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case config.FailurePolicyInMemoryFallback:
		if l.OnFallback != nil {
			l.OnFallback()
		}
		count, allowed := l.fallback.Allow(client, limit, window)
		res := &Result{Allowed: allowed, Count: count, Limit: limit, Window: window, Degraded: true}
		if allowed {
			res.Remaining = limit - count
		}
		return res, true, nil
	}
	return nil, false, nil
}

func (l *Limiter) storeFault(op, key string, err error) {
	l.logger.Warn("rate limit store fault", "op", op, "key", key, "error", err)
	if l.OnStoreError != nil {
		l.OnStoreError(op)
	}
}

// parseCount treats absent, unparseable and negative values as zero.
func parseCount(raw string, ok bool) int64 {
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Close releases the fallback limiter. The store is owned by the caller.
func (l *Limiter) Close() {
	l.fallback.Close()
}

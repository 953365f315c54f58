// Package kv defines the eventually consistent key-value store that holds
// cached Last.fm responses and rate-limit counters, with Redis and
// in-process implementations.
package kv

import (
	"context"
	"errors"
	"time"
)

// Namespaces used by the proxy. Each is a logically separate key space.
const (
	NamespaceCache     = "CACHE"
	NamespaceRateLimit = "RATE_LIMIT"
)

// ErrNotAdmitted is returned by a Set the backend chose to drop.
var ErrNotAdmitted = errors.New("kv: write not admitted")

// Store is a string key-value store with per-key expiry. A zero ttl means the
// key does not expire. Get reports absence with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// prefixed scopes every key of an underlying store under "<ns>:".
type prefixed struct {
	Store
	prefix string
}

// Namespace returns a view of s whose keys live under ns. Close on the view
// is a no-op; the owner closes the underlying store.
func Namespace(s Store, ns string) Store {
	return &prefixed{Store: s, prefix: ns + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return p.Store.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixed) Delete(ctx context.Context, key string) (bool, error) {
	return p.Store.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Close() error { return nil }

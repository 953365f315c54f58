package ratelimit

import (
	"sync"
	"time"
	"unsafe"

	"github.com/dgraph-io/ristretto/v2"
)

// fallbackMaxCost is the memory budget of the fallback counters (16 MiB).
const fallbackMaxCost = 16 << 20

var windowCost = int64(unsafe.Sizeof(fixedWindow{}))

// InMemoryLimiter is a process-local fixed-window counter used while the
// store is unreachable under the inmemoryfallback policy. Each replica
// counts on its own, so the effective limit scales with replica count.
type InMemoryLimiter struct {
	cache *ristretto.Cache[string, *fixedWindow]
	now   func() time.Time
}

type fixedWindow struct {
	mu    sync.Mutex
	start time.Time
	count int64
}

// NewInMemoryLimiter returns a ristretto-backed fallback limiter.
func NewInMemoryLimiter() *InMemoryLimiter {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *fixedWindow]{
		NumCounters: fallbackMaxCost / windowCost * 10,
		MaxCost:     fallbackMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		// Only invalid config makes NewCache fail.
		panic("ristretto: " + err.Error())
	}
	return &InMemoryLimiter{cache: cache, now: time.Now}
}

// Allow counts one request for key and returns the window count and whether
// it is within limit.
func (l *InMemoryLimiter) Allow(key string, limit int64, d time.Duration) (int64, bool) {
	now := l.now()

	w, found := l.cache.Get(key)
	if !found {
		w = &fixedWindow{start: now, count: 1}
		l.cache.SetWithTTL(key, w, windowCost, d)
		l.cache.Wait()
		return 1, limit >= 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.start) >= d {
		w.start = now
		w.count = 0
	}
	if w.count >= limit {
		return w.count, false
	}
	w.count++
	return w.count, true
}

// Close releases the cache. Safe to call more than once.
func (l *InMemoryLimiter) Close() {
	if l.cache != nil {
		l.cache.Close()
	}
}

// Package observability provides Prometheus metrics, health endpoints,
// structured logging and OpenTelemetry tracing for lastfm-proxy.
package observability

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lastfm_proxy"

// Metrics pairs Prometheus collectors with atomic counters that tests and the
// admin API can read without scraping.
type Metrics struct {
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	cacheStores      atomic.Int64
	cacheSkips       atomic.Int64
	cachePurges      atomic.Int64
	storeErrors      atomic.Int64
	rateLimited      atomic.Int64
	fallbackUsed     atomic.Int64
	upstreamErrors   atomic.Int64
	signatureInvalid atomic.Int64
	eventsDropped    atomic.Int64

	promRequests         *prometheus.CounterVec
	promCacheHits        prometheus.Counter
	promCacheMisses      prometheus.Counter
	promCacheStores      prometheus.Counter
	promCacheSkips       prometheus.Counter
	promCachePurges      prometheus.Counter
	promStoreErrors      *prometheus.CounterVec
	promRateLimited      prometheus.Counter
	promFallbackUsed     prometheus.Counter
	promUpstreamErrors   prometheus.Counter
	promSignatureInvalid prometheus.Counter
	promEventsDropped    prometheus.Counter

	PromRequestDuration  *prometheus.HistogramVec
	PromUpstreamDuration prometheus.Histogram
	PromCacheEntrySize   prometheus.Histogram
}

// NewMetrics registers all collectors on reg (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		promRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by Last.fm method and normalized error code (0 on success).",
		}, []string{"method", "error_code"}),
		promCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Responses served from the cache.",
		}),
		promCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cacheable requests that were not in the cache.",
		}),
		promCacheStores: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stores_total",
			Help:      "Responses written to the cache.",
		}),
		promCacheSkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_skips_total",
			Help:      "Responses not cached because they exceeded the size limit.",
		}),
		promCachePurges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_purges_total",
			Help:      "Cache entries removed through the admin API.",
		}),
		promStoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "KV store faults absorbed by the proxy, by operation.",
		}, []string{"op"}),
		promRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected with error 29.",
		}),
		promFallbackUsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_fallback_used_total",
			Help:      "Rate-limit decisions made by the in-memory fallback.",
		}),
		promUpstreamErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream transport failures and non-2xx responses.",
		}),
		promSignatureInvalid: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_invalid_total",
			Help:      "Requests rejected because X-Request-Signature did not match.",
		}),
		promEventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Request events dropped because the emitter buffer was full.",
		}),
		PromRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache"}),
		PromUpstreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Duration of calls to the Last.fm API.",
			Buckets:   prometheus.DefBuckets,
		}),
		PromCacheEntrySize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_entry_size_bytes",
			Help:      "Size of response bodies written to the cache.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
}

// ObserveRequest records one finished request. code is the normalized error
// code, 0 for success.
func (m *Metrics) ObserveRequest(method string, code uint, cache string, d time.Duration) {
	m.promRequests.WithLabelValues(method, strconv.FormatUint(uint64(code), 10)).Inc()
	m.PromRequestDuration.WithLabelValues(cache).Observe(d.Seconds())
}

func (m *Metrics) IncCacheHit() {
	m.cacheHits.Add(1)
	m.promCacheHits.Inc()
}

func (m *Metrics) IncCacheMiss() {
	m.cacheMisses.Add(1)
	m.promCacheMisses.Inc()
}

func (m *Metrics) IncCacheStore() {
	m.cacheStores.Add(1)
	m.promCacheStores.Inc()
}

// IncCacheSkip counts a response too large to cache.
func (m *Metrics) IncCacheSkip() {
	m.cacheSkips.Add(1)
	m.promCacheSkips.Inc()
}

func (m *Metrics) IncCachePurge() {
	m.cachePurges.Add(1)
	m.promCachePurges.Inc()
}

// ObserveCacheEntrySize records the size in bytes of a cached body.
func (m *Metrics) ObserveCacheEntrySize(n float64) {
	m.PromCacheEntrySize.Observe(n)
}

// IncStoreError counts an absorbed store fault. op is "cache_get",
// "cache_set", "ratelimit_get" or "ratelimit_set".
func (m *Metrics) IncStoreError(op string) {
	m.storeErrors.Add(1)
	m.promStoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
	m.promRateLimited.Inc()
}

func (m *Metrics) IncFallbackUsed() {
	m.fallbackUsed.Add(1)
	m.promFallbackUsed.Inc()
}

func (m *Metrics) IncUpstreamError() {
	m.upstreamErrors.Add(1)
	m.promUpstreamErrors.Inc()
}

func (m *Metrics) IncSignatureInvalid() {
	m.signatureInvalid.Add(1)
	m.promSignatureInvalid.Inc()
}

func (m *Metrics) IncEventsDropped() {
	m.eventsDropped.Add(1)
	m.promEventsDropped.Inc()
}

// ObserveUpstream records the duration of one upstream call.
func (m *Metrics) ObserveUpstream(d time.Duration) {
	m.PromUpstreamDuration.Observe(d.Seconds())
}

// MetricsSnapshot is a point-in-time copy of the atomic counters.
type MetricsSnapshot struct {
	CacheHits        int64
	CacheMisses      int64
	CacheStores      int64
	CacheSkips       int64
	CachePurges      int64
	StoreErrors      int64
	RateLimited      int64
	FallbackUsed     int64
	UpstreamErrors   int64
	SignatureInvalid int64
	EventsDropped    int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		CacheStores:      m.cacheStores.Load(),
		CacheSkips:       m.cacheSkips.Load(),
		CachePurges:      m.cachePurges.Load(),
		StoreErrors:      m.storeErrors.Load(),
		RateLimited:      m.rateLimited.Load(),
		FallbackUsed:     m.fallbackUsed.Load(),
		UpstreamErrors:   m.upstreamErrors.Load(),
		SignatureInvalid: m.signatureInvalid.Load(),
		EventsDropped:    m.eventsDropped.Load(),
	}
}

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.IncCacheHit()
	m.IncCacheHit()
	m.IncCacheMiss()
	m.IncCacheStore()
	m.IncCacheSkip()
	m.IncCachePurge()
	m.IncStoreError("cache_get")
	m.IncStoreError("ratelimit_set")
	m.IncRateLimited()
	m.IncFallbackUsed()
	m.IncUpstreamError()
	m.IncSignatureInvalid()
	m.IncEventsDropped()

	assert.Equal(t, MetricsSnapshot{
		CacheHits:        2,
		CacheMisses:      1,
		CacheStores:      1,
		CacheSkips:       1,
		CachePurges:      1,
		StoreErrors:      2,
		RateLimited:      1,
		FallbackUsed:     1,
		UpstreamErrors:   1,
		SignatureInvalid: 1,
		EventsDropped:    1,
	}, m.Snapshot())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.promStoreErrors.WithLabelValues("cache_get")))
}

func TestMetrics_ObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRequest("artist.getInfo", 0, "MISS", 20*time.Millisecond)
	m.ObserveRequest("artist.getInfo", 0, "HIT", time.Millisecond)
	m.ObserveRequest("artist.getInfo", 6, "", time.Millisecond)
	m.ObserveUpstream(50 * time.Millisecond)
	m.ObserveCacheEntrySize(2048)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.promRequests.WithLabelValues("artist.getInfo", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.promRequests.WithLabelValues("artist.getInfo", "6")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "lastfm_proxy_request_duration_seconds")
	assert.Contains(t, names, "lastfm_proxy_upstream_duration_seconds")
	assert.Contains(t, names, "lastfm_proxy_cache_entry_size_bytes")
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

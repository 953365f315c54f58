package observability

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var (
	jsonAlive      = []byte(`{"status":"alive"}`)
	jsonReady      = []byte(`{"status":"ready"}`)
	jsonNotReady   = []byte(`{"status":"not_ready"}`)
	jsonStarted    = []byte(`{"status":"started"}`)
	jsonNotStarted = []byte(`{"status":"not_started"}`)
	jsonDeepOK     = []byte(`{"status":"ready","store":"ok"}`)
	jsonDeepFail   = []byte(`{"status":"not_ready","store":"unreachable"}`)
)

// Pinger checks connectivity to a dependency such as the KV store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker backs the /startz, /healthz and /readyz admin endpoints.
type HealthChecker struct {
	started atomic.Bool
	ready   atomic.Bool

	mu     sync.RWMutex
	pinger Pinger
}

// NewHealthChecker returns a checker that is neither started nor ready.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) SetStarted() { h.started.Store(true) }
func (h *HealthChecker) IsStarted() bool { return h.started.Load() }
func (h *HealthChecker) SetReady() { h.ready.Store(true) }
func (h *HealthChecker) SetNotReady() { h.ready.Store(false) }
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// SetStorePinger registers the store probed by /readyz?deep=true. nil clears it.
func (h *HealthChecker) SetStorePinger(p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pinger = p
}

// StartzHandler reports 200 once startup has finished.
func (h *HealthChecker) StartzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if h.IsStarted() {
			writeStatus(w, http.StatusOK, jsonStarted)
			return
		}
		writeStatus(w, http.StatusServiceUnavailable, jsonNotStarted)
	}
}

// HealthzHandler reports 200 while the process is alive.
func (h *HealthChecker) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, jsonAlive)
	}
}

// ReadyzHandler reports 200 when ready and 503 while starting or draining.
// With ?deep=true it also pings the registered store.
func (h *HealthChecker) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.IsReady() {
			writeStatus(w, http.StatusServiceUnavailable, jsonNotReady)
			return
		}

		if r.URL.Query().Get("deep") != "true" {
			writeStatus(w, http.StatusOK, jsonReady)
			return
		}

		h.mu.RLock()
		p := h.pinger
		h.mu.RUnlock()

		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, jsonDeepFail)
				return
			}
		}
		writeStatus(w, http.StatusOK, jsonDeepOK)
	}
}

func writeStatus(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

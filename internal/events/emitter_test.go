package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector is a webhook that records every event it receives.
type collector struct {
	mu     sync.Mutex
	events []RequestEvent
	posts  int
}

func (c *collector) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Events []RequestEvent `json:"events"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal error: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.events = append(c.events, payload.Events...)
		c.posts++
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEmitter_DisabledReturnsNil(t *testing.T) {
	e := NewEmitter(config.EventsConfig{Enabled: false}, testLogger(), testMetrics())
	if e != nil {
		t.Fatal("expected nil emitter when disabled")
	}
	// A nil emitter is usable.
	e.Emit(RequestEvent{Method: "artist.getInfo"})
	if err := e.Close(); err != nil {
		t.Fatalf("close on nil emitter: %v", err)
	}
}

func TestEmitter_BatchFlushing(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t))
	defer srv.Close()

	e := NewEmitter(config.EventsConfig{
		Enabled:       true,
		HTTP:          config.EventsHTTPConfig{URL: srv.URL},
		BatchSize:     5,
		FlushInterval: "100ms",
		BufferSize:    100,
	}, testLogger(), testMetrics())

	for i := range 12 {
		e.Emit(RequestEvent{
			Method:    "artist.getInfo",
			Path:      "/artist/getInfo",
			Client:    "1.2.3.4",
			Cache:     "MISS",
			ErrorCode: uint(i % 2 * 6),
			Status:    http.StatusOK,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	time.Sleep(500 * time.Millisecond)

	if err := e.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	if got := c.count(); got != 12 {
		t.Errorf("expected 12 events, got %d", got)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events[1].ErrorCode != 6 || c.events[1].Method != "artist.getInfo" {
		t.Errorf("event fields not preserved: %+v", c.events[1])
	}
}

func TestEmitter_BufferOverflow(t *testing.T) {
	m := testMetrics()
	e := NewEmitter(config.EventsConfig{
		Enabled:       true,
		HTTP:          config.EventsHTTPConfig{URL: "http://localhost:0/noop"},
		BatchSize:     1000, // larger than buffer to prevent flushing
		FlushInterval: "1h",
		BufferSize:    5,
	}, testLogger(), m)

	for range 10 {
		e.Emit(RequestEvent{Method: "overflow"})
	}

	e.ringMu.Lock()
	length := e.ringLen
	e.ringMu.Unlock()

	if length != 5 {
		t.Errorf("expected ring length 5 (capped), got %d", length)
	}
	if got := m.Snapshot().EventsDropped; got != 5 {
		t.Errorf("expected 5 dropped events, got %d", got)
	}

	close(e.done)
	e.wg.Wait()
}

func TestEmitter_GracefulShutdownDrain(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t))
	defer srv.Close()

	e := NewEmitter(config.EventsConfig{
		Enabled:       true,
		HTTP:          config.EventsHTTPConfig{URL: srv.URL},
		BatchSize:     3,
		FlushInterval: "1h",
		BufferSize:    100,
	}, testLogger(), testMetrics())

	// Two events stay below the batch size, so only Close sends them.
	e.Emit(RequestEvent{Method: "drain-test"})
	e.Emit(RequestEvent{Method: "drain-test"})

	if err := e.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close error: %v", err)
	}

	if got := c.count(); got != 2 {
		t.Errorf("expected 2 events drained on close, got %d", got)
	}
}

func TestEmitter_ReceiverErrorDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewEmitter(config.EventsConfig{
		Enabled:       true,
		HTTP:          config.EventsHTTPConfig{URL: srv.URL},
		BatchSize:     1,
		FlushInterval: "50ms",
	}, testLogger(), testMetrics())

	e.Emit(RequestEvent{Method: "artist.getInfo"})
	time.Sleep(200 * time.Millisecond)
	_ = e.Close()
}

func TestEmitter_String(t *testing.T) {
	e := NewEmitter(config.EventsConfig{
		Enabled:       true,
		HTTP:          config.EventsHTTPConfig{URL: "http://hooks.local/events"},
		BatchSize:     10,
		FlushInterval: "2s",
		BufferSize:    50,
	}, testLogger(), testMetrics())
	defer e.Close()

	want := "Emitter(http=http://hooks.local/events, batch=10, flush=2s, buf=50)"
	if got := e.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

// Package middleware wraps the proxy handler with the cross-cutting request
// stages: request ID → CORS → rate limiting → handler, followed by the
// access log, metrics and request event for every request.
package middleware

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/events"
	"github.com/lastfmproxy/lastfmproxy/internal/methods"
	"github.com/lastfmproxy/lastfmproxy/internal/observability"
	"github.com/lastfmproxy/lastfmproxy/internal/proxy"
	"github.com/lastfmproxy/lastfmproxy/internal/ratelimit"
	"go.opentelemetry.io/otel/attribute"
)

// requestIDHeader is the canonical HTTP header for request correlation.
const requestIDHeader = "X-Request-Id"

// maxRequestIDLen is the maximum allowed length for a client-supplied X-Request-Id.
const maxRequestIDLen = 128

// requestIDRng is a CSPRNG seeded from crypto/rand. ChaCha8 avoids a syscall
// per ID.
var requestIDRng = func() *rand.ChaCha8 {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("failed to seed ChaCha8: " + err.Error())
	}
	return rand.NewChaCha8(seed)
}()

var requestIDMu sync.Mutex

// generateRequestID creates a 16-byte hex-encoded random ID (128 bits).
func generateRequestID() string {
	var buf [16]byte
	requestIDMu.Lock()
	for i := 0; i < len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], requestIDRng.Uint64())
	}
	requestIDMu.Unlock()
	return hex.EncodeToString(buf[:])
}

// validRequestID checks that a client-supplied request ID is safe to propagate.
// Allowed characters: alphanumeric, hyphens, underscores, dots, colons.
func validRequestID(s string) bool {
	if len(s) == 0 || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}

// setCORSHeaders allows any origin to call the read-only API from a browser.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Signature")
	h.Set("Access-Control-Max-Age", "86400")
}

// Chain is the outer http.Handler of the proxy server.
type Chain struct {
	next        http.Handler
	limiter     *ratelimit.Limiter
	keyStrategy ratelimit.KeyStrategy
	logger      *slog.Logger
	metrics     *observability.Metrics

	emitter        atomic.Pointer[events.Emitter]
	requestTimeout atomic.Int64 // nanoseconds, 0 disables
}

// ChainOption configures optional chain behavior.
type ChainOption func(*Chain)

// WithKeyStrategy replaces the client identification strategy.
func WithKeyStrategy(ks ratelimit.KeyStrategy) ChainOption {
	return func(c *Chain) { c.keyStrategy = ks }
}

// NewChain wraps next. limiter may be nil, which disables rate limiting.
// The chain owns limiter and closes it on Close.
func NewChain(
	next http.Handler,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts ...ChainOption,
) *Chain {
	c := &Chain{
		next:        next,
		limiter:     limiter,
		keyStrategy: ratelimit.ClientIPStrategy{},
		logger:      logger,
		metrics:     metrics,
	}
	for _, o := range opts {
		o(c)
	}
	if limiter != nil {
		limiter.OnStoreError = metrics.IncStoreError
		limiter.OnFallback = metrics.IncFallbackUsed
	}
	c.requestTimeout.Store(int64(config.MustParseDuration(cfg.Server.RequestTimeout, 0)))
	c.emitter.Store(events.NewEmitter(cfg.Events, logger, metrics))

	logger.Info("middleware chain ready",
		"rate_limit", cfg.RateLimit.Limit, "window", cfg.RateLimit.Window,
		"policy", cfg.RateLimit.FailurePolicy, "events", cfg.Events.Enabled)
	return c
}

// statusWriter captures the HTTP status code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code    int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.code = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.code = http.StatusOK
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// statusWriterPool amortizes statusWriter allocations on the hot path.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// ServeHTTP runs one request through the chain.
func (c *Chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := statusWriterPool.Get().(*statusWriter)
	sw.ResponseWriter = w
	sw.code = http.StatusOK
	sw.written = false

	reqID := r.Header.Get(requestIDHeader)
	if !validRequestID(reqID) {
		reqID = generateRequestID()
		r.Header.Set(requestIDHeader, reqID)
	}
	sw.Header().Set(requestIDHeader, reqID)
	setCORSHeaders(sw.Header())

	ctx, out := proxy.WithOutcome(r.Context())
	if d := time.Duration(c.requestTimeout.Load()); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	r = r.WithContext(ctx)

	client := c.keyStrategy.Extract(r)

	defer func() {
		c.finish(r, sw.code, out, client, reqID, time.Since(start))
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	}()

	if r.Method == http.MethodOptions {
		sw.WriteHeader(http.StatusNoContent)
		return
	}

	if m, ok := methods.ByPath(r.URL.Path); ok && c.limiter != nil {
		out.Method = m.Name
		if !c.allow(sw, r, client, out) {
			return
		}
	}

	c.next.ServeHTTP(sw, r)
}

// allow applies the rate limiter and writes the rejection when the request
// may not proceed.
func (c *Chain) allow(w http.ResponseWriter, r *http.Request, client string, out *proxy.Outcome) bool {
	ctx, span := observability.Tracer().Start(r.Context(), "lastfm.ratelimit")
	defer span.End()
	res, err := c.limiter.Allow(ctx, client)
	if err != nil {
		c.logger.Error("rate limit store unavailable, rejecting", "client", client, "error", err)
		out.Code = apierror.CodeTemporaryError
		apierror.Write(w, apierror.TemporaryError())
		return false
	}

	span.SetAttributes(
		attribute.Bool("rate_limit.allowed", res.Allowed),
		attribute.Int64("rate_limit.count", res.Count),
	)
	if res.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	}

	if !res.Allowed {
		c.metrics.IncRateLimited()
		w.Header().Set("Retry-After", strconv.Itoa(int(res.Window.Seconds())))
		out.Code = apierror.CodeRateLimitExceeded
		apierror.Write(w, apierror.RateLimitExceeded())
		return false
	}
	return true
}

// finish writes the access log, records metrics and emits the request event.
func (c *Chain) finish(r *http.Request, status int, out *proxy.Outcome, client, reqID string, d time.Duration) {
	c.logger.Info("access",
		"request_id", reqID,
		"method", r.Method,
		"path", r.URL.Path,
		"lastfm_method", out.Method,
		"status", status,
		"error_code", uint(out.Code),
		"cache", out.Cache,
		"client", client,
		"duration", d,
	)

	if out.Method != "" {
		c.metrics.ObserveRequest(out.Method, uint(out.Code), out.Cache, d)
	}

	c.emitter.Load().Emit(events.RequestEvent{
		Method:    out.Method,
		Path:      r.URL.Path,
		Client:    client,
		Cache:     out.Cache,
		ErrorCode: uint(out.Code),
		Status:    status,
		Duration:  d.Milliseconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: reqID,
	})
}

// Reload applies the hot-reloadable settings of newCfg: rate-limit limit,
// window and failure policy, request timeout and the events emitter.
func (c *Chain) Reload(newCfg *config.Config) {
	if c.limiter != nil {
		c.limiter.Update(newCfg.RateLimit)
	}
	c.requestTimeout.Store(int64(config.MustParseDuration(newCfg.Server.RequestTimeout, 0)))

	old := c.emitter.Swap(events.NewEmitter(newCfg.Events, c.logger, c.metrics))
	_ = old.Close()

	c.logger.Info("middleware chain reloaded",
		"rate_limit", newCfg.RateLimit.Limit, "window", newCfg.RateLimit.Window,
		"policy", newCfg.RateLimit.FailurePolicy)
}

// Close releases the limiter and flushes pending events.
func (c *Chain) Close() error {
	if c.limiter != nil {
		c.limiter.Close()
	}
	return c.emitter.Load().Close()
}

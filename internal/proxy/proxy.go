// Package proxy serves the Last.fm routes. For each request it validates the
// parameters, checks or computes signatures, answers from the cache when it
// can and otherwise calls the upstream API, translating error payloads into
// the normalized error shape.
//
// Routes:
//   - /<category>/<method>: one per supported Last.fm method
//   - /health: plain-text liveness for clients
//   - /auth/url: the browser login URL for the desktop auth flow
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
	"github.com/lastfmproxy/lastfmproxy/internal/cache"
	"github.com/lastfmproxy/lastfmproxy/internal/methods"
	"github.com/lastfmproxy/lastfmproxy/internal/observability"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"github.com/lastfmproxy/lastfmproxy/internal/signing"
	"github.com/lastfmproxy/lastfmproxy/internal/upstream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// X-Cache header values.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

const (
	defaultAuthURL     = "https://www.last.fm/api/auth/"
	defaultCallbackURL = "http://localhost:41419/auth/callback"
)

// Secrets resolves the credentials the proxy holds on behalf of callers.
type Secrets interface {
	APIKey(ctx context.Context) (string, error)
	APISecret(ctx context.Context) (string, error)
	SigningKey(ctx context.Context) (string, error)
}

// Fetcher performs one upstream call and returns the raw body.
type Fetcher interface {
	Fetch(ctx context.Context, method string, p params.Set) ([]byte, error)
}

// Handler is the http.Handler for every proxy route.
type Handler struct {
	secrets  Secrets
	upstream Fetcher
	cache    *cache.Store
	logger   *slog.Logger
	metrics  *observability.Metrics

	authURL     string
	callbackURL string
	routes      map[string]methods.Method

	cacheEnabled atomic.Bool
	cacheTTL     atomic.Int64 // nanoseconds

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// Option configures a Handler.
type Option func(*Handler)

// WithCache enables the read-through cache.
func WithCache(s *cache.Store) Option {
	return func(h *Handler) {
		h.cache = s
		h.cacheEnabled.Store(s != nil)
		if s != nil {
			h.cacheTTL.Store(int64(s.TTL()))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithMetrics records signature failures and upstream calls.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithAuthURL sets the Last.fm login page and the callback the CLI listens on.
func WithAuthURL(authURL, callbackURL string) Option {
	return func(h *Handler) {
		if authURL != "" {
			h.authURL = authURL
		}
		if callbackURL != "" {
			h.callbackURL = callbackURL
		}
	}
}

// New returns a handler that calls up and resolves credentials from secrets.
func New(secrets Secrets, up Fetcher, opts ...Option) *Handler {
	h := &Handler{
		secrets:     secrets,
		upstream:    up,
		logger:      slog.Default(),
		authURL:     defaultAuthURL,
		callbackURL: defaultCallbackURL,
		flights:     make(map[string]*flight),
		routes:      make(map[string]methods.Method),
	}
	for _, m := range methods.All() {
		h.routes[m.Path()] = m
	}
	h.cacheTTL.Store(int64(cache.DefaultTTL))
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetCache toggles caching and changes the TTL of new entries. It has no
// effect when the handler was built without a cache.
func (h *Handler) SetCache(enabled bool, ttl time.Duration) {
	h.cacheEnabled.Store(enabled && h.cache != nil)
	if ttl > 0 {
		h.cacheTTL.Store(int64(ttl))
	}
}

func (h *Handler) cacheOn() bool { return h.cache != nil && h.cacheEnabled.Load() }

// ServeHTTP dispatches by path. Unknown paths are 404 "Not Found".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		if !allowGet(w, r) {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
		return
	case "/auth/url":
		if !allowGet(w, r) {
			return
		}
		h.serveAuthURL(w, r)
		return
	}

	m, ok := h.routes[r.URL.Path]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if !allowGet(w, r) {
		return
	}
	h.serveMethod(w, r, m)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, OPTIONS")
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	return false
}

func (h *Handler) serveAuthURL(w http.ResponseWriter, r *http.Request) {
	key, err := h.secrets.APIKey(r.Context())
	if err != nil {
		h.logger.Error("api key unavailable", "error", err)
		h.fail(w, r, apierror.TemporaryError())
		return
	}
	// Last.fm documents this URL with unescaped query values.
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]string{
		"auth_url": h.authURL + "?api_key=" + key + "&cb=" + h.callbackURL,
	})
}

func (h *Handler) serveMethod(w http.ResponseWriter, r *http.Request, m methods.Method) {
	ctx := r.Context()
	out := OutcomeFrom(ctx)
	out.Method = m.Name

	p := params.FromQuery(r.URL.Query())

	if err := methods.Validate(m.Name, p); err != nil {
		h.fail(w, r, apierror.From(err))
		return
	}

	if sig := r.Header.Get(signing.Header); sig != "" {
		if e := h.verify(ctx, p, sig); e != nil {
			h.fail(w, r, e)
			return
		}
	}

	if m.Privileged {
		h.servePrivileged(w, r, m, p)
		return
	}

	key := params.CacheKey(m.Name, p)

	if h.cacheOn() {
		_, span := observability.Tracer().Start(ctx, "lastfm.cache_lookup")
		body, hit := h.cache.Get(ctx, key)
		span.SetAttributes(attribute.Bool("cache.hit", hit))
		span.End()
		if hit {
			out.Cache = CacheHit
			writeBody(w, body, CacheHit)
			return
		}
	}
	out.Cache = CacheMiss

	body, err := h.fetchShared(ctx, m.Name, key, p)
	if err != nil {
		h.fail(w, r, h.translate(err))
		return
	}
	writeBody(w, body, CacheMiss)
}

// verify checks the inbound signature. It runs before any upstream call or
// cache access.
func (h *Handler) verify(ctx context.Context, p params.Set, sig string) *apierror.Error {
	key, err := h.secrets.SigningKey(ctx)
	if err != nil {
		h.logger.Error("request signing key unavailable", "error", err)
		return apierror.TemporaryError()
	}
	if !signing.Verify(p, key, sig) {
		if h.metrics != nil {
			h.metrics.IncSignatureInvalid()
		}
		return apierror.InvalidSignature()
	}
	return nil
}

// servePrivileged signs the call with the API secret unless the caller
// already supplied api_sig. Responses are never cached and carry no X-Cache.
func (h *Handler) servePrivileged(w http.ResponseWriter, r *http.Request, m methods.Method, p params.Set) {
	ctx := r.Context()

	apiKey, err := h.secrets.APIKey(ctx)
	if err != nil {
		h.logger.Error("api key unavailable", "error", err)
		h.fail(w, r, apierror.TemporaryError())
		return
	}
	p["api_key"] = apiKey

	if !p.Has("api_sig") {
		secret, err := h.secrets.APISecret(ctx)
		if err != nil {
			h.logger.Error("api secret unavailable", "error", err)
			h.fail(w, r, apierror.TemporaryError())
			return
		}
		p["method"] = m.Name
		p["api_sig"] = signing.SignLegacy(p, secret)
		delete(p, "method")
	}

	body, err := h.call(ctx, m.Name, p)
	if err != nil {
		h.fail(w, r, h.translate(err))
		return
	}
	if e, ok := apierror.FromUpstream(body); ok {
		h.fail(w, r, e)
		return
	}
	writeBody(w, body, "")
}

// flight is the shared upstream call for one cache key. Its context is
// cancelled once every caller waiting on it has gone.
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

func (h *Handler) join(ctx context.Context, key string) *flight {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		h.flights[key] = f
	}
	f.refs++
	return f
}

func (h *Handler) leave(key string, f *flight) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if h.flights[key] == f {
		delete(h.flights, key)
	}
	h.group.Forget(key)
}

// fetchShared coalesces concurrent misses for one cache key into a single
// upstream call and writes the cache once. Each caller stops waiting when its
// own context ends; the upstream call is abandoned when no caller is left.
func (h *Handler) fetchShared(ctx context.Context, method, key string, p params.Set) ([]byte, error) {
	f := h.join(ctx, key)
	defer h.leave(key, f)

	ch := h.group.DoChan(key, func() (any, error) {
		fctx := f.ctx

		apiKey, err := h.secrets.APIKey(fctx)
		if err != nil {
			h.logger.Error("api key unavailable", "error", err)
			return nil, apierror.TemporaryError()
		}
		q := p.Clone()
		q["api_key"] = apiKey

		body, err := h.call(fctx, method, q)
		if err != nil {
			return nil, err
		}
		if e, ok := apierror.FromUpstream(body); ok {
			return nil, e
		}
		if h.cacheOn() && fctx.Err() == nil {
			h.cache.Set(fctx, key, body, time.Duration(h.cacheTTL.Load()))
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (h *Handler) call(ctx context.Context, method string, p params.Set) ([]byte, error) {
	ctx, span := observability.Tracer().Start(ctx, "lastfm.upstream")
	defer span.End()
	span.SetAttributes(attribute.String("lastfm.method", method))

	start := time.Now()
	body, err := h.upstream.Fetch(ctx, method, p)
	if h.metrics != nil {
		h.metrics.ObserveUpstream(time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream call failed")
		if h.metrics != nil && errors.Is(err, apierror.ErrServiceOffline) {
			h.metrics.IncUpstreamError()
		}
		return nil, err
	}
	return body, nil
}

// translate maps a fetch failure to the normalized error. A non-2xx upstream
// response that still carries an error payload keeps the upstream code. A
// request that ran out of time is reported as the service being offline.
func (h *Handler) translate(err error) *apierror.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.ServiceOffline()
	}
	var se *upstream.StatusError
	if errors.As(err, &se) {
		if e, ok := apierror.FromUpstream(se.Body); ok {
			return e
		}
	}
	return apierror.From(err)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, e *apierror.Error) {
	OutcomeFrom(r.Context()).Code = e.Code
	h.logger.Debug("request failed", "path", r.URL.Path, "code", e.Code, "message", e.Message)
	apierror.Write(w, e)
}

func writeBody(w http.ResponseWriter, body []byte, xcache string) {
	w.Header().Set("Content-Type", "application/json")
	if xcache != "" {
		w.Header().Set("X-Cache", xcache)
	}
	_, _ = w.Write(body)
}

// Purge removes the cached response for method and p. It reports whether an
// entry existed.
func (h *Handler) Purge(ctx context.Context, method string, p params.Set) bool {
	if h.cache == nil {
		return false
	}
	return h.cache.Delete(ctx, params.CacheKey(method, p))
}

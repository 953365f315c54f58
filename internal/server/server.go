// Package server orchestrates the lastfm-proxy main server and admin server.
// The main server answers the Last.fm method routes while the admin server
// exposes health checks, readiness probes, Prometheus metrics and cache purge.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/cache"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/kv"
	"github.com/lastfmproxy/lastfmproxy/internal/methods"
	"github.com/lastfmproxy/lastfmproxy/internal/middleware"
	"github.com/lastfmproxy/lastfmproxy/internal/observability"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"github.com/lastfmproxy/lastfmproxy/internal/proxy"
	"github.com/lastfmproxy/lastfmproxy/internal/ratelimit"
	iredis "github.com/lastfmproxy/lastfmproxy/internal/redis"
	"github.com/lastfmproxy/lastfmproxy/internal/secrets"
	"github.com/lastfmproxy/lastfmproxy/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server is the main lastfm-proxy server.
type Server struct {
	cfg             *config.Config
	logger          *slog.Logger
	version         string
	mainServer      *http.Server
	http3Server     *http3.Server // nil when HTTP/3 is disabled.
	adminServer     *http.Server
	store           kv.Store
	secrets         *secrets.Source
	handler         *proxy.Handler
	chain           *middleware.Chain
	health          *observability.HealthChecker
	metrics         *observability.Metrics
	tracingShutdown func(context.Context) error
	certs           *certHolder // non-nil when TLS is enabled; supports hot-reload.
}

// New creates a new server instance. The KV store is built from cfg.Store.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Server, error) {
	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv, err := newWithStore(cfg, store, logger, version)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return srv, nil
}

// newWithStore wires every component around an existing store. The server
// takes ownership of store.
func newWithStore(cfg *config.Config, store kv.Store, logger *slog.Logger, version string) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()
	health.SetStorePinger(store)

	src, err := secrets.FromConfig(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("create secrets source: %w", err)
	}

	up, err := upstream.New(cfg.Upstream, upstream.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	handler := buildHandler(cfg, store, src, up, logger, metrics)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Limit > 0 {
		limiter = ratelimit.FromConfig(kv.Namespace(store, kv.NamespaceRateLimit), cfg.RateLimit, logger)
	} else {
		logger.Info("rate limiting disabled")
	}

	chain := middleware.NewChain(handler, limiter, cfg, logger, metrics)

	mainServer, h3srv := buildMainServer(cfg, chain, logger)
	adminServer := buildAdminServer(cfg, health, reg, handler, logger)

	logger.Info("secrets source ready", "provider", src.ProviderName())

	return &Server{
		cfg:         cfg,
		logger:      logger,
		version:     version,
		mainServer:  mainServer,
		http3Server: h3srv,
		adminServer: adminServer,
		store:       store,
		secrets:     src,
		handler:     handler,
		chain:       chain,
		health:      health,
		metrics:     metrics,
	}, nil
}

// buildStore returns the KV store selected by cfg.Store.Backend.
func buildStore(cfg *config.Config, logger *slog.Logger) (kv.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		s, err := kv.NewMemoryStore(cfg.Store.MaxCost)
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		logger.Info("using in-memory store", "max_cost", cfg.Store.MaxCost)
		return s, nil
	default:
		iredis.InitLogger(logger)
		iredis.WarnInsecureRedis(cfg.Redis.TLS, logger)
		client, err := iredis.NewClient(cfg.Redis)
		if err != nil {
			if !iredis.IsConnectivityErr(err) {
				return nil, fmt.Errorf("create redis client: %w", err)
			}
			// Start degraded; the store fault policies take over until
			// Redis becomes reachable.
			logger.Warn("redis unreachable at startup, continuing degraded", "error", err)
			client, err = iredis.NewClientWithoutPing(cfg.Redis)
			if err != nil {
				return nil, fmt.Errorf("create redis client: %w", err)
			}
		}
		logger.Info("using redis store", "mode", cfg.Redis.Mode, "endpoints", cfg.Redis.Endpoints)
		return kv.NewRedisStore(client, ""), nil
	}
}

func buildHandler(
	cfg *config.Config,
	store kv.Store,
	src proxy.Secrets,
	up proxy.Fetcher,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *proxy.Handler {
	ttl := config.MustParseDuration(cfg.Cache.TTL, cache.DefaultTTL)
	opts := []cache.Option{cache.WithTTL(ttl), cache.WithLogger(logger)}
	if cfg.Cache.MaxBodySize > 0 {
		opts = append(opts, cache.WithMaxBodySize(cfg.Cache.MaxBodySize))
	}
	c := cache.NewStore(kv.Namespace(store, kv.NamespaceCache), opts...)
	c.OnHit = metrics.IncCacheHit
	c.OnMiss = metrics.IncCacheMiss
	c.OnStore = metrics.IncCacheStore
	c.OnSkip = metrics.IncCacheSkip
	c.OnPurge = metrics.IncCachePurge
	c.OnStoreError = metrics.IncStoreError
	c.OnBodySize = metrics.ObserveCacheEntrySize

	h := proxy.New(src, up,
		proxy.WithCache(c),
		proxy.WithLogger(logger),
		proxy.WithMetrics(metrics),
		proxy.WithAuthURL(cfg.Upstream.AuthURL, cfg.Server.AuthCallbackURL),
	)
	h.SetCache(cfg.Cache.Enabled, ttl)
	return h
}

func buildMainServer(cfg *config.Config, chain *middleware.Chain, logger *slog.Logger) (*http.Server, *http3.Server) {
	readTimeout, _ := config.ParseDuration(cfg.Server.ReadTimeout, 30*time.Second)
	writeTimeout, _ := config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second)
	idleTimeout, _ := config.ParseDuration(cfg.Server.IdleTimeout, 120*time.Second)

	h2s := &http2.Server{}
	mainHandler := h2c.NewHandler(chain, h2s)

	var h3srv *http3.Server
	if cfg.Server.TLS.HTTP3Enabled {
		h3srv = &http3.Server{
			Addr:           cfg.Server.Address,
			Handler:        chain,
			MaxHeaderBytes: 1 << 20,
			IdleTimeout:    idleTimeout,
			QUICConfig: &quic.Config{
				MaxIdleTimeout: idleTimeout,
				Allow0RTT:      false,
			},
		}

		tcpHandler := mainHandler
		mainHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ProtoMajor < 3 {
				if setErr := h3srv.SetQUICHeaders(w.Header()); setErr != nil {
					logger.Debug("failed to set Alt-Svc header", "error", setErr)
				}
			}
			tcpHandler.ServeHTTP(w, r)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mainHandler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return srv, h3srv
}

func buildAdminServer(
	cfg *config.Config,
	health *observability.HealthChecker,
	reg *prometheus.Registry,
	purger Purger,
	logger *slog.Logger,
) *http.Server {
	adminReadTimeout, _ := config.ParseDuration(cfg.Admin.ReadTimeout, 5*time.Second)
	adminWriteTimeout, _ := config.ParseDuration(cfg.Admin.WriteTimeout, 10*time.Second)
	adminIdleTimeout, _ := config.ParseDuration(cfg.Admin.IdleTimeout, 30*time.Second)

	adminMux := http.NewServeMux()
	adminMux.Handle("/startz", health.StartzHandler())
	adminMux.Handle("/healthz", health.HealthzHandler())
	adminMux.Handle("/readyz", health.ReadyzHandler())
	adminMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	adminMux.Handle("/v1/cache/purge", cachePurgeHandler(purger, logger))

	return &http.Server{
		Addr:              cfg.Admin.Address,
		Handler:           adminMux,
		ReadTimeout:       adminReadTimeout,
		WriteTimeout:      adminWriteTimeout,
		IdleTimeout:       adminIdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// Purger removes one cached method response.
type Purger interface {
	Purge(ctx context.Context, method string, p params.Set) bool
}

// purgeRequest is the body of POST /v1/cache/purge.
type purgeRequest struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params"`
}

// cachePurgeHandler evicts the cached response for a method call. It answers
// 204 when an entry was removed and 404 when none existed.
func cachePurgeHandler(purger Purger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if purger == nil {
			http.Error(w, "cache not configured", http.StatusServiceUnavailable)
			return
		}

		var req purgeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if _, ok := methods.Lookup(req.Method); !ok {
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}

		if !purger.Purge(r.Context(), req.Method, params.Set(req.Params)) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		logger.Info("cache entry purged", "method", req.Method)
		w.WriteHeader(http.StatusNoContent)
	}
}

// certHolder provides atomic TLS certificate hot-reload via GetCertificate.
type certHolder struct {
	cert atomic.Pointer[tls.Certificate]
}

// newCertHolder creates and loads the initial certificate.
func newCertHolder(certFile, keyFile string) (*certHolder, error) {
	ch := &certHolder{}
	if err := ch.Reload(certFile, keyFile); err != nil {
		return nil, err
	}
	return ch, nil
}

// Reload loads a new certificate from disk and atomically swaps it.
func (ch *certHolder) Reload(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	ch.cert.Store(&cert)
	return nil
}

// GetCertificate implements the tls.Config.GetCertificate callback.
func (ch *certHolder) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return ch.cert.Load(), nil
}

// tlsMinVersion returns the tls.Config MinVersion from config, defaulting to TLS 1.2.
func tlsMinVersion(cfg *config.Config) uint16 {
	if cfg.Server.TLS.MinVersion == config.TLSVersion13 {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// Run starts both the main and admin servers and blocks until the context is
// canceled, then performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	tracingShutdown, err := observability.InitTracing(ctx, s.cfg.Tracing, s.version)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		tracingShutdown = func(_ context.Context) error { return nil }
	}
	s.tracingShutdown = tracingShutdown

	errCh := make(chan error, 3)

	// readyCh is closed once the main listener has bound.
	readyCh := make(chan struct{})

	go s.startAdminServer(errCh)
	go s.startMainServerWithReady(errCh, readyCh)

	if s.http3Server != nil {
		go s.startHTTP3Server(errCh)
	}

	s.health.SetStarted()

	select {
	case <-readyCh:
		s.health.SetReady()
		s.logger.Info("lastfm-proxy is ready", "version", s.version)
	case srvErr := <-errCh:
		return srvErr
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining...")
	case srvErr := <-errCh:
		_ = s.shutdown()
		return srvErr
	}

	return s.shutdown()
}

func (s *Server) startAdminServer(errCh chan<- error) {
	s.logger.Info("admin server starting", "address", s.cfg.Admin.Address)
	if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("admin server: %w", err)
	}
}

func (s *Server) startMainServerWithReady(errCh chan<- error, readyCh chan struct{}) {
	s.logger.Info("proxy server starting",
		"address", s.cfg.Server.Address,
		"upstream", s.cfg.Upstream.BaseURL,
		"tls", s.cfg.Server.TLS.Enabled,
		"http3", s.cfg.Server.TLS.HTTP3Enabled)

	ln, listenErr := net.Listen("tcp", s.cfg.Server.Address)
	if listenErr != nil {
		errCh <- fmt.Errorf("proxy server listen: %w", listenErr)
		return
	}

	var err error
	if s.cfg.Server.TLS.Enabled {
		ch, certErr := newCertHolder(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		if certErr != nil {
			_ = ln.Close()
			errCh <- certErr
			return
		}
		s.certs = ch

		tlsCfg := &tls.Config{
			MinVersion:     max(tlsMinVersion(s.cfg), tls.VersionTLS12),
			GetCertificate: ch.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1"},
		}
		s.mainServer.TLSConfig = tlsCfg
		if s.http3Server != nil {
			s.http3Server.TLSConfig = tlsCfg
		}

		close(readyCh)
		err = s.mainServer.Serve(tls.NewListener(ln, tlsCfg))
	} else {
		close(readyCh)
		err = s.mainServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("proxy server: %w", err)
	}
}

func (s *Server) startHTTP3Server(errCh chan<- error) {
	s.logger.Info("HTTP/3 (QUIC) server starting", "address", s.cfg.Server.Address)
	err := s.http3Server.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("HTTP/3 server: %w", err)
	}
}

// Reload applies the hot-reloadable parts of newCfg: rate limit, cache
// enablement and TTL, request timeout, events and TLS certificates. Settings
// that need a restart are logged and left unchanged.
func (s *Server) Reload(newCfg *config.Config) {
	if fields := newCfg.RequiresRestart(s.cfg); len(fields) > 0 {
		s.logger.Warn("config changes require a restart to take effect", "fields", fields)
	}

	s.chain.Reload(newCfg)
	s.handler.SetCache(newCfg.Cache.Enabled, config.MustParseDuration(newCfg.Cache.TTL, cache.DefaultTTL))

	if s.certs != nil && newCfg.Server.TLS.CertFile != "" && newCfg.Server.TLS.KeyFile != "" {
		s.ReloadCerts(newCfg.Server.TLS.CertFile, newCfg.Server.TLS.KeyFile)
	}

	s.cfg = newCfg
}

// ReloadCerts swaps the serving certificate, keeping the old one on failure.
func (s *Server) ReloadCerts(certFile, keyFile string) {
	if s.certs == nil {
		return
	}
	if err := s.certs.Reload(certFile, keyFile); err != nil {
		s.logger.Error("TLS certificate reload failed, keeping old certificate", "error", err)
		return
	}
	s.logger.Info("TLS certificates reloaded")
}

func (s *Server) shutdown() error {
	s.health.SetNotReady()

	drainTimeout, _ := config.ParseDuration(s.cfg.Server.DrainTimeout, 30*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if s.http3Server != nil {
		if err := s.http3Server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP/3 server shutdown error", "error", err)
		}
	}

	if err := s.mainServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("main server shutdown error", "error", err)
	}

	if err := s.adminServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("admin server shutdown error", "error", err)
	}

	if err := s.chain.Close(); err != nil {
		s.logger.Error("middleware chain close error", "error", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}

	if err := s.secrets.Close(); err != nil {
		s.logger.Error("secrets source close error", "error", err)
	}

	if s.tracingShutdown != nil {
		if err := s.tracingShutdown(shutdownCtx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Package main is the entry point for lastfm-proxy, a credential-hiding proxy
// in front of the Last.fm web API.
//
// lastfm-proxy keeps the API key and secret server-side and provides:
//   - Per-client fixed-window rate limiting on a shared key-value store
//   - A read-through response cache for unauthenticated methods
//   - Signing of privileged auth methods and optional inbound request signatures
//   - Prometheus metrics, health checks, structured logging and OpenTelemetry tracing
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/observability"
	"github.com/lastfmproxy/lastfmproxy/internal/server"
)

// version is set at build time via ldflags: -ldflags "-X main.version=v1.0.0".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("lastfm-proxy %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting lastfm-proxy", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, logger, version)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	watcher := config.NewWatcher(config.ConfigFilePath(), srv.Reload, logger)
	go func() {
		if watchErr := watcher.Start(ctx); watchErr != nil {
			logger.Error("config watcher error", "error", watchErr)
		}
	}()
	defer watcher.Stop()

	if cfg.Server.TLS.Enabled {
		certs := config.NewCertWatcher(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, srv.ReloadCerts, logger)
		go func() { _ = certs.Start(ctx) }()
		defer certs.Stop()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("lastfm-proxy shut down gracefully")
}

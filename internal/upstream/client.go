// Package upstream calls the Last.fm web API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"golang.org/x/net/http2"
)

// ErrBodyTooLarge is returned when the response exceeds the configured limit.
var ErrBodyTooLarge = errors.New("upstream response too large")

// StatusError reports a non-2xx upstream response. It matches
// apierror.ErrServiceOffline; Body is kept so the caller can still look for
// an error payload.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == apierror.ErrServiceOffline }

// Client performs GET calls against the Last.fm API base URL.
type Client struct {
	base        *url.URL
	http        *http.Client
	userAgent   string
	maxBodySize int64
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, typically in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 5 << 20 // 5 MiB
	defaultUserAgent   = "lastfm-proxy/1.0"
)

// New builds a client from the upstream config section.
func New(cfg config.UpstreamConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q: scheme and host are required", cfg.BaseURL)
	}

	timeout, _ := config.ParseDuration(cfg.Timeout, defaultTimeout)
	transport, err := buildTransport(cfg, timeout)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:        base,
		http:        &http.Client{Transport: transport, Timeout: timeout},
		userAgent:   cfg.UserAgent,
		maxBodySize: cfg.MaxBodySize,
		logger:      slog.Default(),
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.maxBodySize <= 0 {
		c.maxBodySize = defaultMaxBodySize
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func buildTransport(cfg config.UpstreamConfig, responseTimeout time.Duration) (*http.Transport, error) {
	dialTimeout, _ := config.ParseDuration(cfg.Transport.DialTimeout, 30*time.Second)
	dialKeepAlive, _ := config.ParseDuration(cfg.Transport.DialKeepAlive, 30*time.Second)
	tlsHandshakeTimeout, _ := config.ParseDuration(cfg.Transport.TLSHandshakeTimeout, 10*time.Second)
	idleConnTimeout, _ := config.ParseDuration(cfg.IdleConnTimeout, 90*time.Second)

	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}

	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: dialKeepAlive,
		}).DialContext,
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseTimeout,
	}

	// Negotiate HTTP/2 over TLS with health-check pings on idle connections.
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second

	return t, nil
}

// URL returns the upstream URL for method. The query starts with method,
// api_key and format=json; the remaining parameters follow in key order.
// api_key is taken from p, which the caller populates from its secrets.
func (c *Client) URL(method string, p params.Set) string {
	u := *c.base

	head := "method=" + url.QueryEscape(method) +
		"&api_key=" + url.QueryEscape(p["api_key"]) +
		"&format=json"

	rest := url.Values{}
	keys := make([]string, 0, len(p))
	for k := range p {
		switch k {
		case "method", "api_key", "format":
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		rest.Set(k, p[k])
	}

	u.RawQuery = head
	if len(rest) > 0 {
		u.RawQuery += "&" + rest.Encode()
	}
	return u.String()
}

// Fetch calls method with p and returns the raw body of a 2xx response.
// Transport failures and non-2xx statuses match apierror.ErrServiceOffline.
func (c *Client) Fetch(ctx context.Context, method string, p params.Set) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(method, p), nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The caller went away; nothing to report upstream.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Warn("upstream request failed", "method", method, "error", err)
		return nil, fmt.Errorf("%w: %w", apierror.ErrServiceOffline, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", apierror.ErrServiceOffline, err)
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, fmt.Errorf("%w: %w (limit %d bytes)", apierror.ErrServiceOffline, ErrBodyTooLarge, c.maxBodySize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("upstream non-success status", "method", method, "status", resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

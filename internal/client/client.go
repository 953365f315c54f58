// Package client calls a lastfm-proxy deployment. It validates parameters
// locally before any network call and never holds or uses the API secret:
// signing of privileged methods is left to the proxy.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
	"github.com/lastfmproxy/lastfmproxy/internal/methods"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "lastfm-cli/1.0"
	maxResponseSize  = 10 << 20
)

// Authenticator supplies the Last.fm session key for user-scoped calls.
type Authenticator interface {
	SessionKey(ctx context.Context) (string, error)
}

// StaticSession is an Authenticator holding a fixed session key.
type StaticSession string

func (s StaticSession) SessionKey(context.Context) (string, error) {
	if s == "" {
		return "", ErrAuthRequired
	}
	return string(s), nil
}

// Client issues GET requests against the proxy's method routes.
type Client struct {
	base      *url.URL
	http      *http.Client
	auth      Authenticator
	userAgent string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuthenticator enables CallAuthenticated.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for the proxy at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: scheme and host are required", baseURL)
	}
	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Call invokes method with p and returns the raw JSON response.
func (c *Client) Call(ctx context.Context, method string, p params.Set) (json.RawMessage, error) {
	m, ok := methods.Lookup(method)
	if !ok {
		return nil, &ValidationError{Message: "Unknown method: " + method}
	}
	p = m.WithDefaults(p)
	if err := methods.Validate(method, p); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return c.get(ctx, m.Path(), p)
}

// CallAuthenticated is Call with the session key injected as sk.
func (c *Client) CallAuthenticated(ctx context.Context, method string, p params.Set) (json.RawMessage, error) {
	if c.auth == nil {
		return nil, ErrAuthRequired
	}
	sk, err := c.auth.SessionKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	p = p.Clone()
	p["sk"] = sk
	return c.Call(ctx, method, p)
}

// AuthURL returns the browser login URL built by the proxy.
func (c *Client) AuthURL(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/auth/url", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		AuthURL string `json:"auth_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode auth url: %w", err)
	}
	return out.AuthURL, nil
}

// Health reports whether the proxy answers its health route.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, p params.Set) (json.RawMessage, error) {
	u := c.base.String() + path
	if len(p) > 0 {
		q := make(url.Values, len(p))
		for k, v := range p {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("proxy call", "path", path, "status", resp.StatusCode,
		"cache", resp.Header.Get("X-Cache"), "duration", time.Since(start))

	if e, ok := apierror.FromUpstream(body); ok {
		return nil, fromNormalized(e)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, errors.New("proxy returned invalid JSON")
	}
	return body, nil
}

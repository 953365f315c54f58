package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProxy records the last request and answers with respond.
type fakeProxy struct {
	calls   atomic.Int64
	respond http.HandlerFunc

	mu    sync.Mutex
	path  string
	query url.Values
}

func (f *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	f.path = r.URL.Path
	f.query = r.URL.Query()
	f.mu.Unlock()
	if f.respond != nil {
		f.respond(w, r)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func (f *fakeProxy) last() (string, url.Values) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path, f.query
}

func newTestClient(t *testing.T, fp *fakeProxy, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", opts...)
	require.NoError(t, err)
	return c
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)

	_, err = New("://")
	assert.Error(t, err)
}

func TestCall_RoutesAndDefaults(t *testing.T) {
	fp := &fakeProxy{}
	c := newTestClient(t, fp)

	body, err := c.Call(context.Background(), "artist.getTopTracks", params.Set{"artist": "Cher", "limit": "5"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	path, query := fp.last()
	assert.Equal(t, "/artist/getTopTracks", path)
	assert.Equal(t, "Cher", query.Get("artist"))
	assert.Equal(t, "5", query.Get("limit"), "caller value wins over default")
	assert.Equal(t, "1", query.Get("page"), "default filled in")
	assert.False(t, query.Has("api_sig"))
	assert.False(t, query.Has("api_key"))
}

func TestCall_ValidatesLocally(t *testing.T) {
	fp := &fakeProxy{}
	c := newTestClient(t, fp)

	_, err := c.Call(context.Background(), "artist.getInfo", params.Set{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "artist or mbid")

	_, err = c.Call(context.Background(), "artist.dance", params.Set{})
	require.ErrorAs(t, err, &ve)

	assert.Zero(t, fp.calls.Load(), "no network call on invalid input")
}

func TestCall_ErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{"6 validation", `{"error":6,"message":"Invalid parameters - Missing required parameter: artist"}`, func(t *testing.T, err error) {
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Message, "Missing required parameter")
		}},
		{"10 api key", `{"error":10,"message":"x"}`, func(t *testing.T, err error) {
			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, apierror.CodeInvalidAPIKey, ae.Code)
			assert.Equal(t, "Invalid API key", ae.Message)
		}},
		{"11 offline", `{"error":11,"message":"x"}`, func(t *testing.T, err error) {
			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "Service offline", ae.Message)
			assert.True(t, IsRetryable(err))
		}},
		{"13 signature", `{"error":13,"message":"x"}`, func(t *testing.T, err error) {
			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "Invalid signature", ae.Message)
			assert.False(t, IsRetryable(err))
		}},
		{"16 temporary", `{"error":16,"message":"x"}`, func(t *testing.T, err error) {
			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "Temporary error", ae.Message)
		}},
		{"29 rate limit", `{"error":29,"message":"x"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRateLimited)
			assert.True(t, IsRetryable(err))
		}},
		{"other code keeps message", `{"error":4,"message":"Invalid authentication token"}`, func(t *testing.T, err error) {
			var ae *APIError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, apierror.Code(4), ae.Code)
			assert.Equal(t, "Invalid authentication token", ae.Message)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeProxy{respond: respondJSON(tt.body)})
			_, err := c.Call(context.Background(), "artist.getInfo", params.Set{"artist": "Cher"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestCall_HTTPError(t *testing.T) {
	c := newTestClient(t, &fakeProxy{respond: func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}})

	_, err := c.Call(context.Background(), "artist.getInfo", params.Set{"artist": "Cher"})
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadGateway, he.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestCall_InvalidJSON(t *testing.T) {
	c := newTestClient(t, &fakeProxy{respond: respondJSON("<html>")})
	_, err := c.Call(context.Background(), "artist.getInfo", params.Set{"artist": "Cher"})
	assert.Error(t, err)
}

func TestCall_Timeout(t *testing.T) {
	c := newTestClient(t, &fakeProxy{respond: func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}, WithTimeout(50*time.Millisecond))

	_, err := c.Call(context.Background(), "artist.getInfo", params.Set{"artist": "Cher"})
	assert.Error(t, err)
}

func TestCallAuthenticated(t *testing.T) {
	t.Run("injects the session key", func(t *testing.T) {
		fp := &fakeProxy{}
		c := newTestClient(t, fp, WithAuthenticator(StaticSession("SK")))

		caller := params.Set{"user": "rj"}
		_, err := c.CallAuthenticated(context.Background(), "user.getRecentTracks", caller)
		require.NoError(t, err)
		_, query := fp.last()
		assert.Equal(t, "SK", query.Get("sk"))
		assert.False(t, caller.Has("sk"), "caller params are not mutated")
	})

	t.Run("without authenticator", func(t *testing.T) {
		fp := &fakeProxy{}
		c := newTestClient(t, fp)
		_, err := c.CallAuthenticated(context.Background(), "user.getRecentTracks", params.Set{"user": "rj"})
		assert.ErrorIs(t, err, ErrAuthRequired)
		assert.Zero(t, fp.calls.Load())
	})

	t.Run("empty session", func(t *testing.T) {
		c := newTestClient(t, &fakeProxy{}, WithAuthenticator(StaticSession("")))
		_, err := c.CallAuthenticated(context.Background(), "user.getRecentTracks", nil)
		assert.ErrorIs(t, err, ErrAuthRequired)
	})
}

func TestPrivilegedCallIsNotSigned(t *testing.T) {
	fp := &fakeProxy{}
	c := newTestClient(t, fp)

	_, err := c.Call(context.Background(), "auth.getSession", params.Set{"token": "T"})
	require.NoError(t, err)
	path, query := fp.last()
	assert.Equal(t, "/auth/getSession", path)
	assert.Equal(t, "T", query.Get("token"))
	assert.False(t, query.Has("api_sig"))
}

func TestAuthURL(t *testing.T) {
	fp := &fakeProxy{respond: respondJSON(`{"auth_url":"https://www.last.fm/api/auth/?api_key=K&cb=http://localhost:41419/auth/callback"}`)}
	c := newTestClient(t, fp)

	u, err := c.AuthURL(context.Background())
	require.NoError(t, err)
	path, _ := fp.last()
	assert.Equal(t, "/auth/url", path)
	assert.Equal(t, "https://www.last.fm/api/auth/?api_key=K&cb=http://localhost:41419/auth/callback", u)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, &fakeProxy{respond: func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "OK")
	}})
	assert.NoError(t, c.Health(context.Background()))

	c = newTestClient(t, &fakeProxy{respond: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}})
	var he *HTTPError
	assert.True(t, errors.As(c.Health(context.Background()), &he))
}

package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lastfmproxy/lastfmproxy/internal/methods"
	"github.com/lastfmproxy/lastfmproxy/internal/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		err  *Error
		code Code
		msg  string
	}{
		{InvalidParameters("Missing required parameter: artist"), 6, "Invalid parameters - Missing required parameter: artist"},
		{InvalidAPIKey(), 10, "Invalid API key - You must be granted a valid key by last.fm"},
		{ServiceOffline(), 11, "Service Offline - This service is temporarily offline. Try again later."},
		{InvalidSignature(), 13, "Invalid method signature supplied"},
		{TemporaryError(), 16, "There was a temporary error processing your request. Please try again."},
		{RateLimitExceeded(), 29, "Rate limit exceeded - Your IP has made too many requests in a short period"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
		assert.Equal(t, tt.msg, tt.err.Message)
	}
}

func TestFromUpstream(t *testing.T) {
	t.Run("error shape keeps upstream code and message", func(t *testing.T) {
		e, ok := FromUpstream([]byte(`{"error":29,"message":"Rate limit exceeded"}`))
		require.True(t, ok)
		assert.Equal(t, &Error{Code: 29, Message: "Rate limit exceeded"}, e)
	})

	t.Run("missing message", func(t *testing.T) {
		e, ok := FromUpstream([]byte(`{"error":6}`))
		require.True(t, ok)
		assert.Equal(t, "Unknown error", e.Message)
	})

	t.Run("extra members are ignored", func(t *testing.T) {
		e, ok := FromUpstream([]byte(`{"error":10,"message":"Invalid API key","links":[]}`))
		require.True(t, ok)
		assert.Equal(t, CodeInvalidAPIKey, e.Code)
	})

	notErrors := map[string]string{
		"success body":     `{"artist":{"name":"Cher"}}`,
		"not json":         `<lfm status="ok"/>`,
		"array":            `[1,2]`,
		"string code":      `{"error":"29"}`,
		"negative code":    `{"error":-1}`,
		"fractional code":  `{"error":2.5}`,
		"null code":        `{"error":null}`,
		"empty":            ``,
		"nested error key": `{"artist":{"error":6}}`,
	}
	for name, body := range notErrors {
		t.Run(name, func(t *testing.T) {
			_, ok := FromUpstream([]byte(body))
			assert.False(t, ok)
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, From(nil))
	})

	t.Run("already normalized, wrapped", func(t *testing.T) {
		e := New(29, "slow down")
		assert.Same(t, e, From(fmt.Errorf("ctx: %w", e)))
	})

	t.Run("missing parameter", func(t *testing.T) {
		err := methods.Validate("artist.getInfo", params.Set{})
		got := From(err)
		assert.Equal(t, CodeInvalidParameters, got.Code)
		assert.Equal(t, "Invalid parameters - Missing required parameter: artist or mbid", got.Message)
	})

	t.Run("unknown method", func(t *testing.T) {
		got := From(methods.Validate("nope.nope", nil))
		assert.Equal(t, CodeInvalidParameters, got.Code)
		assert.Equal(t, "Invalid parameters - Unknown method: nope.nope", got.Message)
	})

	sentinels := map[error]Code{
		ErrServiceOffline:    CodeServiceOffline,
		ErrInvalidSignature:  CodeInvalidSignature,
		ErrRateLimitExceeded: CodeRateLimitExceeded,
		ErrInvalidAPIKey:     CodeInvalidAPIKey,
		errors.New("boom"):   CodeTemporaryError,
	}
	for err, code := range sentinels {
		t.Run(err.Error(), func(t *testing.T) {
			assert.Equal(t, code, From(fmt.Errorf("wrapped: %w", err)).Code)
		})
	}
}

func TestWrite(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, InvalidSignature())

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":13,"message":"Invalid method signature supplied"}`, rr.Body.String())
}

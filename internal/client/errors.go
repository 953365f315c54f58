package client

import (
	"errors"
	"fmt"

	"github.com/lastfmproxy/lastfmproxy/internal/apierror"
)

var (
	// ErrRateLimited is returned for error code 29.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrAuthRequired is returned by an authenticated call when no session
	// key is available.
	ErrAuthRequired = errors.New("authentication required")
)

// ValidationError reports missing or invalid parameters, detected either
// locally or by the proxy (error code 6).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Message }

// APIError is any other normalized error returned by the proxy.
type APIError struct {
	Code    apierror.Code
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("API error: %s", e.Message) }

// HTTPError is a non-2xx response that carried no normalized error body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("API error: HTTP %d: %s", e.StatusCode, e.Body) }

// fromNormalized maps a normalized proxy error to the client's error types.
func fromNormalized(e *apierror.Error) error {
	switch e.Code {
	case apierror.CodeInvalidParameters:
		return &ValidationError{Message: e.Message}
	case apierror.CodeInvalidAPIKey:
		return &APIError{Code: e.Code, Message: "Invalid API key"}
	case apierror.CodeServiceOffline:
		return &APIError{Code: e.Code, Message: "Service offline"}
	case apierror.CodeInvalidSignature:
		return &APIError{Code: e.Code, Message: "Invalid signature"}
	case apierror.CodeTemporaryError:
		return &APIError{Code: e.Code, Message: "Temporary error"}
	case apierror.CodeRateLimitExceeded:
		return ErrRateLimited
	default:
		return &APIError{Code: e.Code, Message: e.Message}
	}
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code == apierror.CodeServiceOffline || ae.Code == apierror.CodeTemporaryError
	}
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode >= 500
}

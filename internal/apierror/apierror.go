// Package apierror defines the normalized error shape returned to callers,
// {"error": <code>, "message": "..."}, and the translation of upstream error
// bodies and internal faults into it.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lastfmproxy/lastfmproxy/internal/methods"
)

// Code is a Last.fm-compatible numeric error code.
type Code uint

const (
	CodeInvalidParameters Code = 6
	CodeInvalidAPIKey     Code = 10
	CodeServiceOffline    Code = 11
	CodeInvalidSignature  Code = 13
	CodeTemporaryError    Code = 16
	CodeRateLimitExceeded Code = 29
)

// Sentinel faults raised by the pipeline. From maps each to its code.
var (
	ErrServiceOffline    = errors.New("upstream service offline")
	ErrInvalidSignature  = errors.New("invalid request signature")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidAPIKey     = errors.New("invalid api key")
)

// Error is the normalized error. It is also what the proxy writes on the wire.
type Error struct {
	Code    Code   `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("lastfm error %d: %s", e.Code, e.Message)
}

// New returns an Error with an arbitrary code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func InvalidParameters(details string) *Error {
	return New(CodeInvalidParameters, "Invalid parameters - "+details)
}

func InvalidAPIKey() *Error {
	return New(CodeInvalidAPIKey, "Invalid API key - You must be granted a valid key by last.fm")
}

func ServiceOffline() *Error {
	return New(CodeServiceOffline, "Service Offline - This service is temporarily offline. Try again later.")
}

func InvalidSignature() *Error {
	return New(CodeInvalidSignature, "Invalid method signature supplied")
}

func TemporaryError() *Error {
	return New(CodeTemporaryError, "There was a temporary error processing your request. Please try again.")
}

func RateLimitExceeded() *Error {
	return New(CodeRateLimitExceeded, "Rate limit exceeded - Your IP has made too many requests in a short period")
}

// FromUpstream detects the upstream error shape: a JSON object whose "error"
// member is a non-negative integer. The upstream code and message are kept;
// a missing message becomes "Unknown error". Any other body is not an error.
func FromUpstream(body []byte) (*Error, bool) {
	var shape struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &shape); err != nil || shape.Error == nil || string(shape.Error) == "null" {
		return nil, false
	}

	var code uint64
	if err := json.Unmarshal(shape.Error, &code); err != nil {
		return nil, false
	}

	msg := "Unknown error"
	var s string
	if shape.Message != nil && json.Unmarshal(shape.Message, &s) == nil {
		msg = s
	}
	return New(Code(code), msg), true
}

// From maps any error raised by the pipeline to a normalized Error. Unknown
// errors become TemporaryError.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var missing *methods.MissingParameterError
	var unknown *methods.UnknownMethodError
	switch {
	case errors.As(err, &missing):
		return InvalidParameters(missing.Error())
	case errors.As(err, &unknown):
		return InvalidParameters(unknown.Error())
	case errors.Is(err, ErrServiceOffline):
		return ServiceOffline()
	case errors.Is(err, ErrInvalidSignature):
		return InvalidSignature()
	case errors.Is(err, ErrRateLimitExceeded):
		return RateLimitExceeded()
	case errors.Is(err, ErrInvalidAPIKey):
		return InvalidAPIKey()
	}
	return TemporaryError()
}

// Write sends e as the JSON body with HTTP 200, the status the Last.fm API
// itself uses for error payloads.
func Write(w http.ResponseWriter, e *Error) {
	body, err := json.Marshal(e)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

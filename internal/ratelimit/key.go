package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient identifies requests with no usable address.
const UnknownClient = "unknown"

// KeyStrategy derives the rate-limit identity of a request.
type KeyStrategy interface {
	Extract(req *http.Request) string
}

// ClientIPStrategy identifies clients by address. It prefers
// CF-Connecting-IP, then the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
type ClientIPStrategy struct{}

func (ClientIPStrategy) Extract(req *http.Request) string {
	if ip := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if req.RemoteAddr == "" {
		return UnknownClient
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	if host == "" {
		return UnknownClient
	}
	return host
}

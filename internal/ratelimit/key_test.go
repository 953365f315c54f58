package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPStrategy(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "CF-Connecting-IP wins",
			headers: map[string]string{"CF-Connecting-IP": "9.9.9.9", "X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.5.5.5"},
			want:    "9.9.9.9",
		},
		{
			name:    "first X-Forwarded-For hop",
			headers: map[string]string{"X-Forwarded-For": " 1.2.3.4 , 5.6.7.8"},
			want:    "1.2.3.4",
		},
		{
			name:    "X-Real-IP when XFF missing",
			headers: map[string]string{"X-Real-IP": "10.0.0.1"},
			want:    "10.0.0.1",
		},
		{
			name:    "empty XFF hop falls through",
			headers: map[string]string{"X-Forwarded-For": ", 1.2.3.4", "X-Real-IP": "10.0.0.1"},
			want:    "10.0.0.1",
		},
		{
			name:   "RemoteAddr host",
			remote: "192.168.1.1:12345",
			want:   "192.168.1.1",
		},
		{
			name:   "IPv6 RemoteAddr",
			remote: "[::1]:8080",
			want:   "::1",
		},
		{
			name:   "RemoteAddr without port",
			remote: "192.168.1.1",
			want:   "192.168.1.1",
		},
		{
			name: "nothing usable",
			want: UnknownClient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/artist/getInfo", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPStrategy{}.Extract(req))
		})
	}
}

package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"agentgate/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote ipv4", "203.0.113.7:51000", nil, false, "203.0.113.7"},
		{"remote ipv6", "[2001:db8::1]:443", nil, false, "2001:db8::1"},
		{"forwarded ignored without trust", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.4"}, false, "10.0.0.1"},
		{"first forwarded hop", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.9"}, true, "198.51.100.4"},
		{"real ip header", "10.0.0.1:80", map[string]string{"X-Real-IP": " 198.51.100.5 "}, true, "198.51.100.5"},
		{"empty remote", "", nil, false, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r, tt.trustProxy))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	var ip, agent string
	h := ClientMetadata(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		agent = requestcontext.UserAgent(r.Context())
	}))
	r := httptest.NewRequest(http.MethodPost, "/create-account", nil)
	r.RemoteAddr = "203.0.113.9:1234"
	r.Header.Set("User-Agent", "curl/8.4")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "203.0.113.9", ip)
	assert.Equal(t, "curl/8.4", agent)
}

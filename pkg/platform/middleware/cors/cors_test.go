package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreflightShortCircuits(t *testing.T) {
	called := false
	h := Middleware(Config{
		AllowedOrigins: ParseOrigins("https://app.example.com, https://admin.example.com"),
		AllowedMethods: "POST,OPTIONS",
		AllowedHeaders: "Authorization,Content-Type",
		MaxAge:         600,
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	r := httptest.NewRequest(http.MethodOptions, "/create-account", nil)
	r.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestUnknownOriginGetsNoAllowHeader(t *testing.T) {
	h := Middleware(Config{AllowedOrigins: []string{"https://app.example.com"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	r := httptest.NewRequest(http.MethodPost, "/validate-token", nil)
	r.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

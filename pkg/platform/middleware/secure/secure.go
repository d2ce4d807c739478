// Package secure sets security response headers.
package secure

import (
	"net/http"
	"strconv"
	"time"
)

type Config struct {
	HSTSMaxAge            time.Duration
	ContentSecurityPolicy string
	ReferrerPolicy        string
}

func Headers(cfg Config) func(http.Handler) http.Handler {
	hsts := "max-age=" + strconv.FormatInt(int64(cfg.HSTSMaxAge/time.Second), 10) + "; includeSubDomains"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Strict-Transport-Security", hsts)
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
			h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

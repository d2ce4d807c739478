package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentgate/internal/admission/handler"
	"agentgate/pkg/platform/httputil"
	"agentgate/pkg/platform/middleware/admin"
	"agentgate/pkg/platform/middleware/cors"
	"agentgate/pkg/platform/middleware/metadata"
	"agentgate/pkg/platform/middleware/request"
	"agentgate/pkg/platform/middleware/secure"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators of the public router.
type Deps struct {
	Admission      *handler.Handler
	RequireAdmin   func(http.Handler) http.Handler
	Logger         *slog.Logger
	HealthChecks   map[string]HealthCheck
	MetricsToken   string
	CORS           cors.Config
	Security       secure.Config
	TrustProxy     bool
	RequestTimeout time.Duration
}

// NewRouter wires middleware and endpoints. CORS sits ahead of every handler
// so preflights never consume admission budget.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(metadata.ClientMetadata(d.TrustProxy))
	r.Use(request.Logger(d.Logger))
	r.Use(secure.Headers(d.Security))
	r.Use(cors.Middleware(d.CORS))
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	r.Get("/healthz", healthz(d.HealthChecks))
	r.With(admin.RequireAdminToken(d.MetricsToken, d.Logger)).Handle("/metrics", promhttp.Handler())

	d.Admission.Register(r, d.RequireAdmin)
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "unavailable"
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}

package app

import (
	"net/http"

	"agentgate/internal/admission/handler"
	httpapi "agentgate/internal/http"
	jwttoken "agentgate/internal/jwt_token"
	"agentgate/internal/platform/config"
	"agentgate/internal/platform/metrics"
	rlModels "agentgate/internal/ratelimit/models"
	authmw "agentgate/pkg/platform/middleware/auth"
	"agentgate/pkg/platform/middleware/cors"
	"agentgate/pkg/platform/middleware/secure"
)

// HTTP assembles the public router. The returned handler must be waited on at
// shutdown so background notifications finish.
func (a *App) HTTP() (http.Handler, *handler.Handler, error) {
	cfg := a.Config
	admission, err := handler.New(a.Limiter, a.Invitations, a.Accounts, a.Dispatcher, a.Auditor, handler.Config{
		Policies:      Policies(cfg.RateLimit),
		InvitationTTL: cfg.Invitation.TTL,
		AcceptBaseURL: cfg.Invitation.AcceptBaseURL,
		LoginURL:      cfg.Notification.LoginURL,
		ProductName:   cfg.Notification.ProductName,
	},
		handler.WithLogger(a.Logger),
		handler.WithClock(a.Clock),
		handler.WithMetrics(metrics.New()),
	)
	if err != nil {
		return nil, nil, err
	}

	tokens := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, jwttoken.WithClock(a.Clock)))
	checks := make(map[string]httpapi.HealthCheck)
	for name, check := range a.HealthChecks() {
		checks[name] = check
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Admission:    admission,
		RequireAdmin: authmw.RequireRole(tokens, cfg.Auth.AdminRole, a.Auditor, a.Logger),
		Logger:       a.Logger,
		HealthChecks: checks,
		MetricsToken: cfg.Server.MetricsToken,
		CORS: cors.Config{
			AllowedOrigins:   cors.ParseOrigins(cfg.CORS.AllowedOrigins),
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		},
		Security: secure.Config{
			HSTSMaxAge:            cfg.Security.HSTSMaxAge,
			ContentSecurityPolicy: cfg.Security.ContentSecurityPolicy,
			ReferrerPolicy:        cfg.Security.ReferrerPolicy,
		},
		TrustProxy:     cfg.Server.TrustProxy,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return router, admission, nil
}

// Policies maps configured budgets onto the three admission policies.
func Policies(cfg config.RateLimitConfig) handler.Policies {
	policy := func(name string, p config.PolicyConfig) rlModels.Policy {
		return rlModels.Policy{Name: name, Window: p.Window, MaxAttempts: p.MaxAttempts, FailOpen: p.FailOpen}
	}
	return handler.Policies{
		Invite:        policy(rlModels.PolicyInvite, cfg.Invite),
		ValidateToken: policy(rlModels.PolicyValidateToken, cfg.ValidateToken),
		CreateAccount: policy(rlModels.PolicyCreateAccount, cfg.CreateAccount),
	}
}

// Package auth authenticates operator bearer tokens.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "agentgate/pkg/domain-errors"
	"agentgate/pkg/platform/audit"
	"agentgate/pkg/platform/httputil"
	"agentgate/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Subject string
	Email   string
	Role    string
}

// RequireRole admits requests carrying a valid bearer token whose role
// matches. The subject and e-mail are placed on the request context; every
// rejection is audited as unauthorized_access.
func RequireRole(validator JWTValidator, role string, auditor audit.Recordable, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			deny := func(reason, description string, err error) {
				logger.WarnContext(ctx, "unauthorized access",
					"reason", reason,
					"error", err,
					"request_id", requestID,
				)
				auditor.Record(ctx, audit.EventUnauthorizedAccess, audit.EventContext{
					Payload: map[string]any{
						"reason": reason,
						"path":   r.URL.Path,
					},
				})
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, description))
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				deny("missing_token", "Missing or invalid Authorization header", nil)
				return
			}
			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				deny("invalid_token", "Invalid or expired token", err)
				return
			}
			if claims.Role != role {
				deny("insufficient_role", "Invalid or expired token", nil)
				return
			}

			ctx = requestcontext.WithActor(ctx, claims.Subject, claims.Role)
			if claims.Email != "" {
				ctx = requestcontext.WithActorEmail(ctx, claims.Email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

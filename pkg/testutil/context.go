package testutil

import (
	"net/http"

	"agentgate/pkg/requestcontext"
)

// WithActor marks the request as coming from an authenticated principal,
// as the role middleware would after a successful token check.
func WithActor(req *http.Request, actorID, role, email string) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), actorID, role)
	ctx = requestcontext.WithActorEmail(ctx, email)
	return req.WithContext(ctx)
}

// WithClient sets the client metadata normally filled by the metadata
// middleware.
func WithClient(req *http.Request, clientIP, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent))
}

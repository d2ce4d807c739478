// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and the audit recorder read them. The
// package has no net/http dependency so services can import it freely.
//
//	actor := requestcontext.ActorID(ctx)
//	ip := requestcontext.ClientIP(ctx)
//
// Service tests inject values directly:
//
//	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.7", "curl/8.4")
package requestcontext

import "context"

type (
	actorIDKey   struct{}
	actorRoleKey struct{}
	actorMailKey struct{}
	clientIPKey  struct{}
	userAgentKey struct{}
	requestIDKey struct{}
)

// ActorID returns the authenticated actor identity, or "" for anonymous callers.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ActorRole returns the authenticated actor role, or "".
func ActorRole(ctx context.Context) string {
	if v, ok := ctx.Value(actorRoleKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActor injects the authenticated actor into the context.
func WithActor(ctx context.Context, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, actorID)
	return context.WithValue(ctx, actorRoleKey{}, role)
}

// ActorEmail returns the authenticated actor's e-mail address, if the token carried one.
func ActorEmail(ctx context.Context) string {
	if v, ok := ctx.Value(actorMailKey{}).(string); ok {
		return v
	}
	return ""
}

func WithActorEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorMailKey{}, email)
}

// ClientIP returns the caller's source address.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// UserAgent returns the caller's User-Agent header.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// RequestID returns the request correlation id.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

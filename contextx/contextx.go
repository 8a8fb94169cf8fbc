// Package contextx carries per-request values set by the admin server
// interceptors: the authenticated caller, the request id and the policy group
// the method resolved to.
package contextx

import "context"

type contextKey int

const (
	actorKey contextKey = iota
	requestIDKey
	groupKey
)

// Actor is the authenticated caller of an admin request.
//
//	if a, ok := contextx.ActorFromContext(ctx); ok {
//		logger.Info("invalidate", slog.String("by", a.Subject))
//	}
type Actor struct {
	Subject string
	// Token is a short fingerprint of the credential, never the credential.
	Token  string
	Scopes []string
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext reports the Actor stored in ctx, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns "" when no request id is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithGroup records the policy group the current method matched.
func WithGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, groupKey, group)
}

// GroupFromContext returns "" when the method matched no group.
func GroupFromContext(ctx context.Context) string {
	g, _ := ctx.Value(groupKey).(string)
	return g
}

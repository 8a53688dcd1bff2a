// Package auditcontext threads request metadata to the audit trail without
// widening every service signature.
package auditcontext

import "context"

type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}
type actorKey struct{}

type actor struct {
	actorType string
	actorID   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ipAddressKey{}).(string)
	return v
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userAgentKey{}).(string)
	return v
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{actorType: actorType, actorID: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	v, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return v.actorType, v.actorID
}

// Package orgcontext carries the resolved tenant identity through a single
// request. The context value is created by the resolver middleware and is
// never stored outside the request's context.Context.
package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type contextKey struct{}

// Context is the per-request tenant context. PrivilegedOverride marks the
// narrow cross-tenant capability; it is only set when an override token
// validated independently of the primary credential.
type Context struct {
	OrgID              snowflake.ID
	UserID             snowflake.ID
	Role               string
	PrivilegedOverride bool
}

// WithContext stores the tenant context for the duration of the request.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant context, if one was resolved.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}

// OrgIDFromContext returns the active org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	tc, ok := FromContext(ctx)
	if !ok || tc.OrgID == 0 {
		return 0, false
	}
	return tc.OrgID, true
}

// IsPrivileged reports whether the context carries the cross-tenant
// override capability.
func IsPrivileged(ctx context.Context) bool {
	tc, ok := FromContext(ctx)
	return ok && tc.PrivilegedOverride
}

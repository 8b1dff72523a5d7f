// Package requestctx carries per-request identity through context. The HTTP
// layer resolves a bearer token to a user once, then every handler and log
// line downstream reads the same identity from context.
package requestctx

import "context"

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user's id.
// A nil parent is treated as context.Background.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user's id, or the empty
// string when the request never passed authentication.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

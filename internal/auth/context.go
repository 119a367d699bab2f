// Package auth carries caller identity from the HTTP middleware to the
// handlers. The subsystem's own operations take caller ids explicitly; the
// context only bridges the transport layer.
package auth

import "context"

type contextKey struct{}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated caller's id, or 0 when the request never
// passed the auth middleware.
func UserID(ctx context.Context) int64 {
	id, _ := ctx.Value(contextKey{}).(int64)
	return id
}

package auth

import (
	"context"
)

// WithClientID stores the authenticated client id in ctx.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// GetClientIDFromContext retrieves the client id set by the auth middleware.
// Returns the ID and true if found, otherwise "" and false.
func GetClientIDFromContext(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(ClientIDKey).(string)
	return clientID, ok
}

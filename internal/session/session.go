// Package session stores per-browser-session values, chiefly the last known
// application status, so GAS is asked at most once per status transition.
package session

import (
	"context"
	"strings"
)

// Store is a per-session key/value store. A missing value is reported with
// ok == false and a nil error.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (value string, ok bool, err error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID, key string) error
}

// StatusCacheKey is the session key for the cached UI status of an
// application.
func StatusCacheKey(clientRef, grantCode string) string {
	return "applicationStatus:" + strings.ToLower(clientRef) + ":" + grantCode
}

type contextKey struct{}

// WithID stores the session id on ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IDFromContext returns the session id set by the session middleware.
func IDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

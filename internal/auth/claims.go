package auth

import (
	"context"
	"time"

	authlib "example.com/carevisits/libs/auth"
)

// Claims mirrors the shared auth claims type for service convenience.
type Claims = authlib.Claims

// Config mirrors the shared auth config.
type Config = authlib.Config

// IssueToken signs a token for staffID with the given scopes.
func IssueToken(cfg Config, staffID string, scopes []string, ttl time.Duration) (string, error) {
	return authlib.Sign(cfg, staffID, scopes, ttl)
}

// WithClaims stores the claims in the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

// FromContext retrieves claims from context.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}

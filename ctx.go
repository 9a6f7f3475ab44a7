package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the validated claims in the given context
func WithClaimsContext(r context.Context, claims *JWTClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the claims from the standard context
func GetClaims(ctx context.Context) (*JWTClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*JWTClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the claims stored by the bearer middleware
func GetRouterClaims(ctx router.Context, key string) (*JWTClaims, bool) {
	if key == "" {
		key = "user"
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return GetClaims(ctx.Context())
	}
	claims, ok := raw.(*JWTClaims)
	return claims, ok && claims != nil
}

// ActorFromContext returns the authenticated caller carried by ctx.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return Actor{}, false
	}
	return ActorFromClaims(claims), true
}

// ActorFromRouter returns the authenticated caller of a request.
func ActorFromRouter(ctx router.Context, key string) (Actor, bool) {
	claims, ok := GetRouterClaims(ctx, key)
	if !ok {
		return Actor{}, false
	}
	return ActorFromClaims(claims), true
}

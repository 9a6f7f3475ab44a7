package auth

import (
	"context"

	"github.com/trailblaze/trailblaze-auth/middleware/jwtware"
)

// TokenValidator validates tokens and extracts claims without tying callers
// to a specific signing implementation.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(ctx context.Context, tokenString string) (*JWTClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(ctx context.Context, tokenString string) (*JWTClaims, error) {
	if f == nil {
		return nil, ErrUnauthenticated.Clone()
	}
	return f(ctx, tokenString)
}

var _ jwtware.AuthClaims = (*JWTClaims)(nil)

// MiddlewareValidator exposes a TokenValidator to the bearer middleware.
// Failures are collapsed into ErrTokenInvalid before they leave the core.
func MiddlewareValidator(v TokenValidator) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(ctx context.Context, tokenString string) (jwtware.AuthClaims, error) {
		claims, err := v.Validate(ctx, tokenString)
		if err != nil {
			return nil, PublicTokenError(err)
		}
		return claims, nil
	})
}

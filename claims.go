package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims carries the subject, token id and a role snapshot taken at issuance.
// The legacy role claim mirrors the first element of Roles.
type JWTClaims struct {
	jwt.RegisteredClaims
	Roles    []string       `json:"roles,omitempty"`
	UserRole string         `json:"role,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim
func (c *JWTClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Role returns the primary role
func (c *JWTClaims) Role() string {
	return c.RoleSet().Primary()
}

// RoleSet resolves the claim roles, falling back to the legacy role claim.
func (c *JWTClaims) RoleSet() RoleSet {
	if c == nil {
		return RoleSet{}
	}
	return ResolveRoles(c.Roles, c.UserRole)
}

// RoleList returns the resolved roles as plain strings.
func (c *JWTClaims) RoleList() []string {
	return c.RoleSet().Strings()
}

// HasRole checks if the token carries role
func (c *JWTClaims) HasRole(role string) bool {
	return c.RoleSet().Has(role)
}

// IsElevated reports whether the token carries an administrative role.
func (c *JWTClaims) IsElevated() bool {
	return c.RoleSet().IsElevated()
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ClaimsMetadata exposes metadata extensions added by decorators.
func (c *JWTClaims) ClaimsMetadata() map[string]any {
	return c.Metadata
}

package jwtware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClaims struct {
	subject string
	roles   []string
}

func (s stubClaims) Subject() string { return s.subject }

func (s stubClaims) Role() string {
	if len(s.roles) == 0 {
		return ""
	}
	return s.roles[0]
}

func (s stubClaims) RoleList() []string { return s.roles }

func (s stubClaims) HasRole(role string) bool {
	for _, r := range s.roles {
		if r == role {
			return true
		}
	}
	return false
}

func TestPerformAuthorizationChecks(t *testing.T) {
	claims := stubClaims{subject: "bob", roles: []string{"SYSBO", "SGVBO"}}

	t.Run("no requirement", func(t *testing.T) {
		require.NoError(t, performAuthorizationChecks(claims, Config{}))
	})

	t.Run("any of required roles", func(t *testing.T) {
		cfg := Config{RequiredRoles: []string{"SYSADMIN", "SYSBO"}}
		require.NoError(t, performAuthorizationChecks(claims, cfg))
	})

	t.Run("missing role", func(t *testing.T) {
		cfg := Config{RequiredRoles: []string{"SYSADMIN"}}
		err := performAuthorizationChecks(claims, cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAccessDenied))
	})

	t.Run("custom checker", func(t *testing.T) {
		called := false
		cfg := Config{
			RequiredRoles: []string{"SYSADMIN"},
			RoleChecker: func(c AuthClaims, required []string) bool {
				called = true
				return c.Subject() == "bob"
			},
		}
		require.NoError(t, performAuthorizationChecks(claims, cfg))
		assert.True(t, called)
	})
}

func TestGetDefaultConfig(t *testing.T) {
	validator := TokenValidatorFunc(func(ctx context.Context, token string) (AuthClaims, error) {
		return stubClaims{subject: "alice"}, nil
	})

	cfg := GetDefaultConfig(Config{TokenValidator: validator})
	assert.Equal(t, "user", cfg.ContextKey)
	assert.Equal(t, "Bearer", cfg.AuthScheme)
	assert.Equal(t, defaultTokenLookup, cfg.TokenLookup)
	assert.NotNil(t, cfg.ErrorHandler)

	assert.Panics(t, func() {
		GetDefaultConfig(Config{})
	})
}

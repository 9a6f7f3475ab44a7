package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningKeyID() string
	GetSigningKeys() map[string]string
	GetTokenTTL() time.Duration
	GetIssuer() string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
	GetRemovalRevokesTokens() bool
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Actor is the authenticated caller of an operation. It is built from
// validated claims and never from client supplied fields.
type Actor struct {
	Username string
	Roles    RoleSet
}

// ActorFromClaims builds the caller view of a validated token.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{
		Username: claims.Subject(),
		Roles:    claims.RoleSet(),
	}
}

// Ref returns the audit reference for the actor.
func (a Actor) Ref() ActorRef {
	if a.Username == "" {
		return ActorRef{Type: "system"}
	}
	return ActorRef{ID: a.Username, Type: "account"}
}

// IsOwner reports whether the actor is acting on its own account.
func (a Actor) IsOwner(username string) bool {
	return a.Username != "" && a.Username == username
}

// TokenIssuer mints access tokens for accounts.
type TokenIssuer interface {
	Issue(ctx context.Context, username string, roles RoleSet) (IssuedToken, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// DefaultLogger returns the printf logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of an issued access token.
const DefaultTokenTTL = 2 * time.Hour

// IssuedToken is the result of a successful issuance.
type IssuedToken struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"jti"`
	Username  string    `json:"username"`
	Roles     RoleSet   `json:"roles"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenService issues and validates access tokens.
type TokenService interface {
	TokenIssuer
	Validate(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*tokenService)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *tokenService) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

// WithTokenIssuer sets the iss claim and requires it on validation.
func WithTokenIssuer(issuer string) TokenServiceOption {
	return func(ts *tokenService) {
		ts.issuer = strings.TrimSpace(issuer)
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *tokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *tokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// WithClaimsDecorator registers a decorator run before signing.
func WithClaimsDecorator(d ClaimsDecorator) TokenServiceOption {
	return func(ts *tokenService) {
		ts.decorator = normalizeClaimsDecorator(d)
	}
}

type tokenService struct {
	keys        KeyProvider
	active      ActiveTokens
	revocations Revocations
	ttl         time.Duration
	issuer      string
	now         func() time.Time
	logger      Logger
	decorator   ClaimsDecorator
}

var _ TokenService = (*tokenService)(nil)

// NewTokenService creates a token service. Every issued token is recorded in
// active before it is returned and every validation consults revocations.
func NewTokenService(keys KeyProvider, active ActiveTokens, revocations Revocations, opts ...TokenServiceOption) TokenService {
	ts := &tokenService{
		keys:        keys,
		active:      active,
		revocations: revocations,
		ttl:         DefaultTokenTTL,
		now:         time.Now,
		logger:      defLogger{},
		decorator:   noopClaimsDecorator{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// Issue mints a token for username carrying roles. The token is registered as
// active before it is returned; if registration fails no token is returned.
// An empty role set fails with ErrRolesRequired.
func (ts *tokenService) Issue(ctx context.Context, username string, roles RoleSet) (IssuedToken, error) {
	username = normalizeUsername(username)
	if username == "" {
		return IssuedToken{}, goerrors.New("username is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	roles = NewRoleSet(roles...)
	if len(roles) == 0 {
		return IssuedToken{}, ErrRolesRequired.Clone().WithMetadata(map[string]any{
			"username": username,
		})
	}

	kid, key, err := ts.keys.SigningKey()
	if err != nil {
		return IssuedToken{}, err
	}

	now := ts.now().Truncate(time.Second)
	expiresAt := now.Add(ts.ttl)

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Roles:    roles.Strings(),
		UserRole: roles.Primary(),
	}

	snapshot := captureImmutableClaims(claims)
	if err := ts.decorator.Decorate(ctx, username, claims); err != nil {
		return IssuedToken{}, goerrors.Wrap(err, goerrors.CategoryInternal, "claims decorator failed")
	}
	if err := snapshot.validate(claims); err != nil {
		return IssuedToken{}, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return IssuedToken{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	entry := &ActiveToken{
		JTI:       claims.TokenID(),
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := ts.active.Register(ctx, entry); err != nil {
		ts.logger.Error("token registration failed for %s: %v", username, err)
		return IssuedToken{}, goerrors.Wrap(err, ErrTokenRegistration.Category, ErrTokenRegistration.Message).
			WithTextCode(ErrTokenRegistration.TextCode).
			WithCode(ErrTokenRegistration.Code)
	}

	ts.logger.Debug("issued token %s for %s (roles=%v, kid=%s)", entry.JTI, username, claims.Roles, kid)

	return IssuedToken{
		Token:     signed,
		TokenID:   entry.JTI,
		Username:  username,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate verifies the signature, the expiry and the revocation status of the token.
func (ts *tokenService) Validate(ctx context.Context, tokenString string) (*JWTClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrUnauthenticated.Clone()
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, ts.keys.Keyfunc(), parserOptions...)
	if err != nil {
		return nil, classifyParseError(err)
	}

	if !token.Valid || claims.TokenID() == "" {
		return nil, ErrTokenMalformed.Clone()
	}

	now := ts.now()
	if !now.Before(claims.Expires()) {
		return nil, ErrTokenExpired.Clone()
	}

	entry, found, err := ts.revocations.Lookup(ctx, claims.TokenID())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "revocation lookup failed")
	}
	if found {
		if entry.Effective(now) {
			return nil, ErrTokenRevoked.Clone().WithMetadata(map[string]any{
				"jti": claims.TokenID(),
			})
		}
		return nil, ErrTokenExpired.Clone()
	}

	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired.Clone()
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return goerrors.Wrap(err, ErrTokenInvalidSignature.Category, ErrTokenInvalidSignature.Message).
			WithTextCode(ErrTokenInvalidSignature.TextCode).
			WithCode(ErrTokenInvalidSignature.Code)
	default:
		return goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}
}

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
)

func TestTokenServiceIssueAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular, auth.RoleSheetViewer))
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.NotEmpty(t, issued.TokenID)
	assert.Equal(t, f.clock.Now().Add(auth.DefaultTokenTTL), issued.ExpiresAt)

	entry, found, err := f.repo.ActiveTokens().Get(ctx, issued.TokenID)
	require.NoError(t, err)
	require.True(t, found, "issued token must be registered")
	assert.Equal(t, "joana", entry.Username)

	claims, err := f.tokens.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "joana", claims.Subject())
	assert.Equal(t, issued.TokenID, claims.TokenID())
	assert.Equal(t, []string{auth.RoleRegular, auth.RoleSheetViewer}, claims.RoleList())
	assert.Equal(t, auth.RoleRegular, claims.UserRole)
}

func TestTokenServiceCarriesKeyID(t *testing.T) {
	f := newFixture(t)

	issued, err := f.tokens.Issue(context.Background(), "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(issued.Token, &auth.JWTClaims{})
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultKeyID, parsed.Header["kid"])
	assert.Equal(t, "HS256", parsed.Header["alg"])
}

func TestTokenServiceRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	f.clock.Advance(auth.DefaultTokenTTL)

	_, err = f.tokens.Validate(ctx, issued.Token)
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err), "got %v", err)
}

func TestTokenServiceRejectsRevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	require.NoError(t, f.sessions.RevokeAndDeregister(ctx, issued.TokenID, issued.ExpiresAt))

	_, err = f.tokens.Validate(ctx, issued.Token)
	require.Error(t, err)
	assert.True(t, auth.IsTokenRevokedError(err), "got %v", err)

	_, found, err := f.repo.ActiveTokens().Get(ctx, issued.TokenID)
	require.NoError(t, err)
	assert.False(t, found)

	// revoking twice is harmless
	require.NoError(t, f.sessions.RevokeAndDeregister(ctx, issued.TokenID, issued.ExpiresAt))
}

func TestTokenServiceRejectsForeignSignature(t *testing.T) {
	f := newFixture(t)

	claims := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "forged",
			Subject:   "root",
			IssuedAt:  jwt.NewNumericDate(f.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		},
		Roles: []string{auth.RoleSuperAdmin},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = auth.DefaultKeyID
	forged, err := token.SignedString([]byte("not-the-key"))
	require.NoError(t, err)

	_, err = f.tokens.Validate(context.Background(), forged)
	require.Error(t, err)
	assert.True(t, auth.IsSignatureError(err), "got %v", err)
}

func TestTokenServiceEmptyRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.tokens.Issue(ctx, "joana", auth.NewRoleSet())
	requireCode(t, err, auth.ErrRolesRequired)
	assert.Empty(t, issued.Token)

	listed, err := f.repo.ActiveTokens().ListByUsername(ctx, "joana")
	require.NoError(t, err)
	assert.Empty(t, listed, "rejected issuance must not register a token")

	// a validly signed token without roles still validates and reads as the
	// default role
	claims := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "no-roles",
			Subject:   "joana",
			IssuedAt:  jwt.NewNumericDate(f.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = auth.DefaultKeyID
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	validated, err := f.tokens.Validate(ctx, signed)
	require.NoError(t, err)
	assert.Empty(t, validated.RoleList())
	assert.Equal(t, auth.RoleRegular, validated.RoleSet().Primary())
}

func TestTokenServiceRejectsGarbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.tokens.Validate(context.Background(), "not.a.token")
	require.Error(t, err)
	assert.True(t, auth.IsTokenError(err))

	_, err = f.tokens.Validate(context.Background(), "")
	requireCode(t, err, auth.ErrUnauthenticated)
}

func TestTokenServiceKeyRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	f.keys.Rotate("next", map[string][]byte{
		auth.DefaultKeyID: []byte(testSigningKey),
		"next":            []byte("rotated-signing-key"),
	})

	fresh, err := f.tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	_, err = f.tokens.Validate(ctx, old.Token)
	require.NoError(t, err, "tokens signed with a retained key stay valid")
	_, err = f.tokens.Validate(ctx, fresh.Token)
	require.NoError(t, err)

	f.keys.Rotate("next", map[string][]byte{
		"next": []byte("rotated-signing-key"),
	})

	_, err = f.tokens.Validate(ctx, old.Token)
	require.Error(t, err, "tokens signed with a retired key are rejected")
	assert.Equal(t, []string{"next"}, f.keys.KeyIDs())
}

func TestTokenServiceIssuerCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issuing := auth.NewTokenService(f.keys, f.repo.ActiveTokens(), f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenIssuer("trailblaze"),
		auth.WithTokenLogger(nopLogger{}),
	)
	other := auth.NewTokenService(f.keys, f.repo.ActiveTokens(), f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenIssuer("someone-else"),
		auth.WithTokenLogger(nopLogger{}),
	)

	issued, err := issuing.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	_, err = issuing.Validate(ctx, issued.Token)
	require.NoError(t, err)

	_, err = other.Validate(ctx, issued.Token)
	require.Error(t, err)
}

func TestTokenServiceFailsWhenRegistrationFails(t *testing.T) {
	f := newFixture(t)

	active := &MockActiveTokens{}
	active.On("Register", mock.Anything, mock.AnythingOfType("*auth.ActiveToken")).
		Return(errors.New("disk full")).Once()

	tokens := auth.NewTokenService(f.keys, active, f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenLogger(nopLogger{}),
	)

	issued, err := tokens.Issue(context.Background(), "joana", auth.NewRoleSet(auth.RoleRegular))
	require.Error(t, err)
	assert.Empty(t, issued.Token)
	assert.Equal(t, 500, auth.HTTPStatus(err))
	active.AssertExpectations(t)
}

func TestTokenServiceDecoratorCannotRewriteIdentity(t *testing.T) {
	f := newFixture(t)

	tokens := auth.NewTokenService(f.keys, f.repo.ActiveTokens(), f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenLogger(nopLogger{}),
		auth.WithClaimsDecorator(auth.ClaimsDecoratorFunc(func(_ context.Context, _ string, claims *auth.JWTClaims) error {
			claims.RegisteredClaims.Subject = "root"
			return nil
		})),
	)

	_, err := tokens.Issue(context.Background(), "joana", auth.NewRoleSet(auth.RoleRegular))
	require.Error(t, err)
}

func TestTokenServiceDecoratorAddsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tokens := auth.NewTokenService(f.keys, f.repo.ActiveTokens(), f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenLogger(nopLogger{}),
		auth.WithClaimsDecorator(auth.ClaimsDecoratorFunc(func(_ context.Context, _ string, claims *auth.JWTClaims) error {
			claims.Metadata = map[string]any{"region": "norte"}
			return nil
		})),
	)

	issued, err := tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	claims, err := tokens.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "norte", claims.ClaimsMetadata()["region"])
}

func TestAccountProfileDecorator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	tokens := auth.NewTokenService(f.keys, f.repo.ActiveTokens(), f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenLogger(nopLogger{}),
		auth.WithClaimsDecorator(auth.ChainClaimsDecorators(
			auth.AccountProfileDecorator(f.repo.Accounts()),
			auth.ClaimsDecoratorFunc(func(_ context.Context, _ string, claims *auth.JWTClaims) error {
				claims.Metadata["region"] = "norte"
				return nil
			}),
		)),
	)

	issued, err := tokens.Issue(ctx, "joana", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)

	claims, err := tokens.Validate(ctx, issued.Token)
	require.NoError(t, err)
	meta := claims.ClaimsMetadata()
	assert.Equal(t, string(auth.VisibilityPrivate), meta[auth.MetadataVisibility])
	assert.Equal(t, "norte", meta["region"])

	// accounts missing from the store are issued without profile metadata
	plain := auth.NewTokenService(f.keys, f.repo.ActiveTokens(), f.repo.Revocations(),
		auth.WithTokenClock(f.clock.Now),
		auth.WithTokenLogger(nopLogger{}),
		auth.WithClaimsDecorator(auth.AccountProfileDecorator(f.repo.Accounts())),
	)
	issued, err = plain.Issue(ctx, "ghost", auth.NewRoleSet(auth.RoleRegular))
	require.NoError(t, err)
	claims, err = plain.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.NotContains(t, claims.ClaimsMetadata(), auth.MetadataVisibility)
}

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
)

func TestLegacyLoginAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular, auth.RoleSheetViewer)

	legacy := auth.NewLegacyAuthenticator(f.repo,
		auth.WithLegacyClock(f.clock.Now),
		auth.WithLegacyLogger(nopLogger{}),
	)

	session, err := legacy.Login(ctx, "joana", "Secret#123")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, auth.RoleRegular, session.Role)

	loaded, err := legacy.Session(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, "joana", loaded.Username)

	// legacy sessions are independent from the token registries
	sessions, err := f.sessions.ListActiveSessions(ctx, "joana")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, legacy.Logout(ctx, session.Token))

	err = legacy.Logout(ctx, session.Token)
	requireCode(t, err, auth.ErrUnauthenticated)

	_, err = legacy.Session(ctx, session.Token)
	requireCode(t, err, auth.ErrUnauthenticated)
}

func TestLegacyLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)
	legacy := auth.NewLegacyAuthenticator(f.repo, auth.WithLegacyLogger(nopLogger{}))

	_, err := legacy.Login(context.Background(), "joana", "nope")
	requireCode(t, err, auth.ErrInvalidCredentials)

	err = legacy.Logout(context.Background(), "")
	requireCode(t, err, auth.ErrUnauthenticated)
}

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
)

func TestComparePasswordAndHash(t *testing.T) {
	hash, err := fastPasswords{}.HashPassword("Secret#123")
	require.NoError(t, err)

	assert.NoError(t, auth.ComparePasswordAndHash("Secret#123", hash))
	assert.ErrorIs(t, auth.ComparePasswordAndHash("secret#123", hash), auth.ErrMismatchedHashAndPassword)
}

func TestLegacyHashCompatibility(t *testing.T) {
	legacy := auth.LegacyHash("Secret#123")

	assert.True(t, auth.NeedsRehash(legacy))
	assert.NoError(t, auth.ComparePasswordAndHash("Secret#123", legacy))
	assert.ErrorIs(t, auth.ComparePasswordAndHash("Other#123", legacy), auth.ErrMismatchedHashAndPassword)
	assert.ErrorIs(t, auth.ComparePasswordAndHash("Secret#123", ""), auth.ErrMismatchedHashAndPassword)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := auth.HashPassword("")
	assert.Equal(t, auth.ErrNoEmptyString, err)
}

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "battery staple"))
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken("user-1", RoleAdmin, "secret-secret-secret", time.Hour)
	require.NoError(t, err)

	sub, role, err := ParseToken(tok, "secret-secret-secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
	assert.Equal(t, RoleAdmin, role)
}

func TestParseTokenRejects(t *testing.T) {
	tok, err := NewToken("user-1", RoleUser, "secret-one-secret-one", time.Hour)
	require.NoError(t, err)
	_, _, err = ParseToken(tok, "secret-two-secret-two")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewToken("user-1", RoleUser, "secret-one-secret-one", -time.Minute)
	require.NoError(t, err)
	_, _, err = ParseToken(expired, "secret-one-secret-one")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = ParseToken("not-a-jwt", "secret-one-secret-one")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

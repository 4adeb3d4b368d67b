package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-at-least-32-characters-long"

func TestNewJWTServiceRejectsShortSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "too-short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)
}

func TestIssueAndValidateToken(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	token, err := svc.IssueToken("admin")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.InDelta(t, (12 * time.Hour).Seconds(), float64(token.ExpiresIn), 1)

	claims, err := svc.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "ntripcaster", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)
	other, err := NewJWTService(JWTConfig{Secret: "another-secret-key-also-32-characters-or-more"})
	require.NoError(t, err)

	token, err := svc.IssueToken("admin")
	require.NoError(t, err)

	_, err = other.ValidateToken(token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{
		Secret:        testSecret,
		TokenDuration: -time.Minute,
	})
	require.NoError(t, err)

	token, err := svc.IssueToken("admin")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	_, err = svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

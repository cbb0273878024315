package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateToken("alice", AccessToken, "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, AccessToken, claims.TokenType)

	_, err = ValidateToken(token, "other")
	assert.Error(t, err)
}

func TestValidateToken_Rejects(t *testing.T) {
	expired, err := GenerateToken("alice", AccessToken, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, "secret")
	assert.Error(t, err)

	_, err = ValidateToken("not.a.token", "secret")
	assert.Error(t, err)

	_, err = GenerateToken("", AccessToken, "secret", time.Hour)
	assert.Error(t, err)
}

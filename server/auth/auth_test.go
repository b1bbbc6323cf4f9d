package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateAccessToken("dana", time.Now().Add(time.Hour), secret)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := Authenticate(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "dana", claims.Name)
	assert.Equal(t, "dana", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Contains(t, claims.Audience, AccessTokenAudienceName)
	require.NotNil(t, claims.ExpiresAt)
}

func TestTokenWithoutExpiry(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateAccessToken("svc", time.Time{}, secret)
	require.NoError(t, err)

	claims, err := Authenticate(token, secret)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateAccessToken("dana", time.Now().Add(-time.Minute), secret)
	require.NoError(t, err)

	_, err = Authenticate(token, secret)
	assert.Error(t, err)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := GenerateAccessToken("dana", time.Now().Add(time.Hour), []byte("right"))
	require.NoError(t, err)

	_, err = Authenticate(token, []byte("wrong"))
	assert.Error(t, err)
}

func TestEmptyTokenRejected(t *testing.T) {
	_, err := Authenticate("", []byte("secret"))
	assert.Error(t, err)
}

func TestFromAuthorizationHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"BEARER abc123", "abc123"},
		{"Basic abc123", ""},
		{"abc123", ""},
		{"Bearer  abc123 ", "abc123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromAuthorizationHeader(tt.header), "header %q", tt.header)
	}
}

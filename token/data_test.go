package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-connecteddrive/oauth2"
	"github.com/jrsteele09/go-connecteddrive/token"
	"github.com/stretchr/testify/require"
)

func TestFromResponse(t *testing.T) {
	now := time.Now()

	d, err := token.FromResponse(oauth2.TokenResponse{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    3599,
	}, now)
	require.NoError(t, err)
	require.Equal(t, "Bearer", d.TokenType)
	require.Equal(t, 3599*time.Second, d.Lifetime)
	require.Equal(t, "Bearer access", d.AuthorizationHeader())
}

func TestFromResponseRequiresAccessToken(t *testing.T) {
	_, err := token.FromResponse(oauth2.TokenResponse{RefreshToken: "refresh"}, time.Now())
	require.Error(t, err)
}

func TestFromResponseFallsBackToExpClaim(t *testing.T) {
	now := time.Now()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": now.Add(30 * time.Minute).Unix(),
	}).SignedString([]byte("key"))
	require.NoError(t, err)

	d, err := token.FromResponse(oauth2.TokenResponse{AccessToken: raw, TokenType: "Bearer"}, now)
	require.NoError(t, err)
	require.InDelta(t, (30 * time.Minute).Seconds(), d.Lifetime.Seconds(), 2)
}

func TestFromResponseDefaultLifetime(t *testing.T) {
	d, err := token.FromResponse(oauth2.TokenResponse{AccessToken: "opaque"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, token.DefaultLifetime, d.Lifetime)
}

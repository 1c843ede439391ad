package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-connecteddrive/oauth2"
	"github.com/pkg/errors"
)

// DefaultLifetime is assumed when neither expires_in nor an exp claim is available.
const DefaultLifetime = time.Hour

// Data is the outcome of a successful login or refresh.
type Data struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Lifetime     time.Duration // validity of AccessToken from the moment it was issued
}

// FromResponse validates a token endpoint response and converts it to Data.
// When expires_in is missing the exp claim of a JWT access token is used.
func FromResponse(resp oauth2.TokenResponse, now time.Time) (*Data, error) {
	if strings.TrimSpace(resp.AccessToken) == "" {
		return nil, errors.New("token response without access_token")
	}

	d := &Data{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Lifetime:     time.Duration(resp.ExpiresIn) * time.Second,
	}
	if d.TokenType == "" {
		d.TokenType = oauth2.DefaultTokenType
	}
	if d.Lifetime <= 0 {
		d.Lifetime = lifetimeFromClaims(resp.AccessToken, now)
	}
	return d, nil
}

// lifetimeFromClaims reads exp from an access token without verifying it; the
// value only schedules the next refresh.
func lifetimeFromClaims(rawToken string, now time.Time) time.Duration {
	parsed, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return DefaultLifetime
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return DefaultLifetime
	}
	if lifetime := exp.Sub(now); lifetime > 0 {
		return lifetime
	}
	return DefaultLifetime
}

// AuthorizationHeader renders the value of the Authorization header.
func (d Data) AuthorizationHeader() string {
	return d.TokenType + " " + d.AccessToken
}

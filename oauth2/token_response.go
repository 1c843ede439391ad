package oauth2

// TokenResponse is the token endpoint response as defined in RFC 6749.
// The identity provider answers both the authorization_code and refresh_token
// grants with this shape.
type TokenResponse struct {
	// AccessToken is sent as "Authorization: <token_type> <access_token>" on API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is an opaque long-lived token used with grant_type=refresh_token.
	// A refresh response may omit it, in which case the previous one stays valid.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is usually "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime of the access token in seconds.
	ExpiresIn int `json:"expires_in,omitempty"`

	// IDToken is returned when the openid scope was requested. It is not consumed.
	IDToken string `json:"id_token,omitempty"`

	Scope string `json:"scope,omitempty"`
}

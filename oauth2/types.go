package oauth2

// ResponseType represents the OAuth 2.0 response type requested at the authenticate endpoint.
type ResponseType string

const (
	// CodeResponseType asks the identity provider for an authorization code.
	CodeResponseType ResponseType = "code"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256 sends code_challenge = BASE64URL(SHA256(code_verifier)).
	// The verifier itself is only revealed at the token endpoint.
	CodeMethodTypeS256 CodeMethodType = "S256"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code (plus PKCE verifier) for tokens.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenCodeGrant exchanges a refresh token for a new access token.
	RefreshTokenCodeGrant GrantType = "refresh_token"
)

// DefaultTokenType is the scheme put in front of the access token in the Authorization header.
const DefaultTokenType = "Bearer"

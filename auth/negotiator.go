package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/internal/httpx"
	"github.com/jrsteele09/go-connecteddrive/oauth2"
	"github.com/jrsteele09/go-connecteddrive/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
)

// Handshake stages reported in AuthStageError.Stage.
const (
	StageDiscovery    = "discovery"
	StageAuthenticate = "authenticate"
	StageAuthorize    = "authorize"
	StageToken        = "token"
	StageRefresh      = "refresh"
)

const (
	DefaultAppVersion       = "4.9.2(36892)"
	DefaultThrottleAttempts = 3
	DefaultThrottleCooldown = 15 * time.Second

	androidBuild = "AP2A.240605.024"
)

// LoginRequest carries everything a full login needs.
type LoginRequest struct {
	Region    Region
	Username  string
	Password  string
	SessionID string
	Captcha   string
}

// RefreshRequest carries everything a refresh needs.
type RefreshRequest struct {
	Region       Region
	RefreshToken string
	SessionID    string
}

// Negotiator runs the login and refresh handshakes against the vendor's
// identity endpoints. It holds no session state and is safe for concurrent use.
type Negotiator struct {
	httpClient       *http.Client
	logger           zerolog.Logger
	nowFunc          func() time.Time
	appVersion       string
	throttleAttempts int
	throttleCooldown time.Duration
}

// NegotiatorOption defines a function type to modify the Negotiator instance.
type NegotiatorOption func(*Negotiator)

// WithHTTPClient sets the client used for every handshake request.
func WithHTTPClient(client *http.Client) NegotiatorOption {
	return func(n *Negotiator) {
		if client != nil {
			n.httpClient = client
		}
	}
}

// WithThrottleRetry sets how often a throttled stage is attempted and the
// pause between attempts.
func WithThrottleRetry(attempts int, cooldown time.Duration) NegotiatorOption {
	return func(n *Negotiator) {
		if attempts > 0 {
			n.throttleAttempts = attempts
		}
		if cooldown >= 0 {
			n.throttleCooldown = cooldown
		}
	}
}

func WithLogger(logger zerolog.Logger) NegotiatorOption {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) NegotiatorOption {
	return func(n *Negotiator) {
		n.nowFunc = nowFunc
	}
}

// WithUserAgent sets the app version announced in x-user-agent.
func WithUserAgent(appVersion string) NegotiatorOption {
	return func(n *Negotiator) {
		if appVersion != "" {
			n.appVersion = appVersion
		}
	}
}

func NewNegotiator(options ...NegotiatorOption) *Negotiator {
	n := &Negotiator{
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		logger:           log.Logger,
		nowFunc:          time.Now,
		appVersion:       DefaultAppVersion,
		throttleAttempts: DefaultThrottleAttempts,
		throttleCooldown: DefaultThrottleCooldown,
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// UserAgent renders the x-user-agent header announced for region.
func (n *Negotiator) UserAgent(region Region) string {
	return region.UserAgent(n.appVersion)
}

// Login performs discovery followed by the three stage PKCE handshake.
func (n *Negotiator) Login(ctx context.Context, req LoginRequest) (*token.Data, error) {
	if err := ValidateLoginRequest(req); err != nil {
		return nil, err
	}
	logger := n.logger.With().Str("region", req.Region.Name).Logger()

	cfg, err := n.Discover(ctx, req.Region, req.SessionID)
	if err != nil {
		return nil, err
	}

	verifier := xoauth2.GenerateVerifier()
	p := pkceParams{
		config:    cfg,
		state:     uuid.NewString(),
		nonce:     uuid.NewString(),
		challenge: xoauth2.S256ChallengeFromVerifier(verifier),
	}

	var authorization string
	err = n.withThrottleRetry(ctx, StageAuthenticate, func() error {
		authorization, err = n.authenticate(ctx, req, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("stage", StageAuthenticate).Msg("credentials accepted")

	code, err := n.authorize(ctx, req, p, authorization)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("stage", StageAuthorize).Msg("authorization code received")

	tok, err := oauthConfig(cfg).Exchange(n.oauthContext(ctx), code, xoauth2.VerifierOption(verifier))
	if err != nil {
		return nil, stageError(StageToken, err)
	}
	data, err := n.tokenData(tok, "")
	if err != nil {
		return nil, &apperrors.AuthStageError{Stage: StageToken, Err: err}
	}
	logger.Info().Dur("lifetime", data.Lifetime).Msg("login complete")
	return data, nil
}

// Refresh performs discovery and exchanges the refresh token for a new token pair.
func (n *Negotiator) Refresh(ctx context.Context, req RefreshRequest) (*token.Data, error) {
	if err := ValidateRefreshRequest(req); err != nil {
		return nil, err
	}

	cfg, err := n.Discover(ctx, req.Region, req.SessionID)
	if err != nil {
		return nil, err
	}

	var tok *xoauth2.Token
	err = n.withThrottleRetry(ctx, StageRefresh, func() error {
		src := oauthConfig(cfg).TokenSource(n.oauthContext(ctx), &xoauth2.Token{RefreshToken: req.RefreshToken})
		t, err := src.Token()
		if err != nil {
			return stageError(StageRefresh, err)
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := n.tokenData(tok, req.RefreshToken)
	if err != nil {
		return nil, &apperrors.AuthStageError{Stage: StageRefresh, Err: err}
	}
	n.logger.Info().Str("region", req.Region.Name).Dur("lifetime", data.Lifetime).Msg("refresh complete")
	return data, nil
}

type pkceParams struct {
	config    *DiscoveryConfig
	state     string
	nonce     string
	challenge string
}

func (p pkceParams) form() url.Values {
	return url.Values{
		"client_id":             {p.config.ClientID},
		"response_type":         {string(oauth2.CodeResponseType)},
		"scope":                 {strings.Join(p.config.Scopes, " ")},
		"redirect_uri":          {p.config.ReturnURL},
		"state":                 {p.state},
		"nonce":                 {p.nonce},
		"code_challenge":        {p.challenge},
		"code_challenge_method": {string(oauth2.CodeMethodTypeS256)},
	}
}

// authenticate submits the credentials and returns the authorization artifact.
func (n *Negotiator) authenticate(ctx context.Context, req LoginRequest, p pkceParams) (string, error) {
	form := p.form()
	form.Set("username", req.Username)
	form.Set("password", req.Password)
	form.Set("grant_type", string(oauth2.AuthorizationCodeGrant))

	httpReq, err := n.newFormRequest(ctx, p.config.AuthenticateURL(), form, req)
	if err != nil {
		return "", &apperrors.AuthStageError{Stage: StageAuthenticate, Err: err}
	}
	httpReq.Header.Set("hcaptchatoken", req.Captcha)

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return "", &apperrors.TransportError{Op: "auth " + StageAuthenticate, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &apperrors.TransportError{Op: "auth " + StageAuthenticate, Err: err}
	}
	if !httpx.IsSuccess(resp.StatusCode) {
		return "", &apperrors.AuthStageError{Stage: StageAuthenticate, StatusCode: resp.StatusCode, Reason: snippet(body)}
	}

	var out struct {
		RedirectTo string `json:"redirect_to"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &apperrors.AuthStageError{Stage: StageAuthenticate, StatusCode: resp.StatusCode, Reason: "invalid json", Err: err}
	}
	authorization := queryParam(out.RedirectTo, "authorization")
	if authorization == "" {
		return "", &apperrors.AuthStageError{Stage: StageAuthenticate, StatusCode: resp.StatusCode, Reason: "missing authorization in redirect_to"}
	}
	return authorization, nil
}

// authorize trades the authorization artifact for a code. The vendor answers
// with a redirect that must not be followed.
func (n *Negotiator) authorize(ctx context.Context, req LoginRequest, p pkceParams, authorization string) (string, error) {
	form := p.form()
	form.Set("authorization", authorization)

	httpReq, err := n.newFormRequest(ctx, p.config.AuthenticateURL(), form, req)
	if err != nil {
		return "", &apperrors.AuthStageError{Stage: StageAuthorize, Err: err}
	}
	httpReq.AddCookie(&http.Cookie{Name: "GCDMSSO", Value: authorization})

	resp, err := httpx.NoRedirect(n.httpClient).Do(httpReq)
	if err != nil {
		return "", &apperrors.TransportError{Op: "auth " + StageAuthorize, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if !httpx.IsRedirect(resp.StatusCode) {
		return "", &apperrors.AuthStageError{Stage: StageAuthorize, StatusCode: resp.StatusCode, Reason: "expected redirect"}
	}
	location := resp.Header.Get("Location")
	code := queryParam(location, "code")
	if code == "" {
		return "", &apperrors.AuthStageError{Stage: StageAuthorize, StatusCode: resp.StatusCode, Reason: "missing code in location"}
	}
	if state := queryParam(location, "state"); state != "" && state != p.state {
		return "", &apperrors.AuthStageError{Stage: StageAuthorize, StatusCode: resp.StatusCode, Reason: "state mismatch"}
	}
	return code, nil
}

func (n *Negotiator) newFormRequest(ctx context.Context, endpoint string, form url.Values, req LoginRequest) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "Negotiator.newFormRequest")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	n.setAppHeaders(httpReq, req.Region, req.SessionID)
	return httpReq, nil
}

func (n *Negotiator) setAppHeaders(req *http.Request, region Region, sessionID string) {
	if region.SubscriptionKey != "" {
		req.Header.Set("ocp-apim-subscription-key", region.SubscriptionKey)
	}
	req.Header.Set("x-user-agent", n.UserAgent(region))
	req.Header.Set("bmw-session-id", sessionID)
	req.Header.Set("x-identity-provider", "gcdm")
	req.Header.Set("accept", "application/json")
}

// oauthContext hands the negotiator's client to x/oauth2.
func (n *Negotiator) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, xoauth2.HTTPClient, n.httpClient)
}

func oauthConfig(cfg *DiscoveryConfig) *xoauth2.Config {
	return &xoauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: xoauth2.Endpoint{
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: xoauth2.AuthStyleInHeader,
		},
		RedirectURL: cfg.ReturnURL,
		Scopes:      cfg.Scopes,
	}
}

// tokenData converts an x/oauth2 token into token.Data. previousRefresh is kept
// when the provider does not rotate the refresh token.
func (n *Negotiator) tokenData(tok *xoauth2.Token, previousRefresh string) (*token.Data, error) {
	now := n.nowFunc()
	resp := oauth2.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn(tok),
	}
	if resp.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		// x/oauth2 stamps Expiry with the wall clock.
		resp.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = previousRefresh
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return token.FromResponse(resp, now)
}

// expiresIn reads expires_in from the raw token response. x/oauth2 only
// turns it into Expiry and leaves Token.ExpiresIn empty.
func expiresIn(tok *xoauth2.Token) int {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

// stageError maps an x/oauth2 failure onto AuthStageError, keeping the
// status code so throttling can be recognised.
func stageError(stage string, err error) error {
	var rerr *xoauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return &apperrors.AuthStageError{Stage: stage, StatusCode: status, Reason: snippet(rerr.Body)}
	}
	return &apperrors.AuthStageError{Stage: stage, Reason: "token endpoint request failed", Err: err}
}

// queryParam reads a query parameter from a URL or a bare query string.
func queryParam(raw, name string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	return values.Get(name)
}

// Package connecteddrive is a client for the vendor's vehicle API. Every call
// obtains a usable token from a session first, logging in or refreshing
// transparently.
package connecteddrive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-connecteddrive/auth"
	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/internal/httpx"
	"github.com/jrsteele09/go-connecteddrive/sessions"
	"github.com/jrsteele09/go-connecteddrive/tagjson"
	"github.com/jrsteele09/go-connecteddrive/token"
)

// Session hands out usable tokens. *sessions.Session implements it.
type Session interface {
	Token(ctx context.Context) (token.Data, error)
	SessionID() string
}

var _ Session = (*sessions.Session)(nil)

// Units selects the unit system of returned values.
type Units string

const (
	Metric   Units = "metric"
	Imperial Units = "imperial"
)

// ParseUnits maps a config value to Units; anything but "imperial" is metric.
func ParseUnits(s string) Units {
	if strings.EqualFold(strings.TrimSpace(s), string(Imperial)) {
		return Imperial
	}
	return Metric
}

// Header renders the bmw-units-preferences header value.
func (u Units) Header() string {
	if u == Imperial {
		return "d=MI;v=G"
	}
	return "d=KM;v=L"
}

type Client struct {
	session    Session
	region     auth.Region
	units      Units
	httpClient *http.Client
	appVersion string
	logger     zerolog.Logger
	nowFunc    func() time.Time
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithUnits(units Units) ClientOption {
	return func(c *Client) {
		c.units = units
	}
}

// WithAppVersion sets the app version announced in x-user-agent.
func WithAppVersion(version string) ClientOption {
	return func(c *Client) {
		c.appVersion = version
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = nowFunc
	}
}

func NewClient(session Session, region auth.Region, options ...ClientOption) (*Client, error) {
	if session == nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "[NewClient] session is required")
	}
	if region.APIHost == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "[NewClient] region %q has no api host", region.Name)
	}
	c := &Client{
		session:    session,
		region:     region,
		units:      Metric,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		appVersion: auth.DefaultAppVersion,
		logger:     log.Logger,
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	c.httpClient = httpx.WithHeaders(c.httpClient, c.staticHeaders())
	return c, nil
}

func (c *Client) staticHeaders() http.Header {
	h := http.Header{}
	h.Set("accept", "application/json")
	h.Set("accept-language", "en")
	h.Set("x-user-agent", c.region.UserAgent(c.appVersion))
	h.Set("bmw-units-preferences", c.units.Header())
	h.Set("24-hour-format", "true")
	if c.region.SubscriptionKey != "" {
		h.Set("ocp-apim-subscription-key", c.region.SubscriptionKey)
	}
	return h
}

// RequestNewToken makes sure the session holds a usable token, logging in or
// refreshing when needed. It is a no-op while the current token is valid.
func (c *Client) RequestNewToken(ctx context.Context) error {
	_, err := c.session.Token(ctx)
	return err
}

// Get fetches pathSpec (a path with an optional query string) from host and
// decodes the plain or tagged JSON body. An empty host means the region's
// API host. A non-empty vin is sent in the bmw-vin header.
func (c *Client) Get(ctx context.Context, vin, host, pathSpec string) (any, error) {
	path, query, err := splitPathSpec(pathSpec)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, host, path, query, vin, nil)
	if err != nil {
		return nil, err
	}
	return tagjson.Decode(body)
}

// Execute runs a remote service. An empty action uses the service's default;
// payload is sent as a JSON body when the service takes one. A 2xx reply
// without a body is an acknowledgement and yields a nil result, not a
// DecodeError.
func (c *Client) Execute(ctx context.Context, vin, service, action string, payload any) (any, error) {
	if !IsValidVin(vin) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "invalid vin %q", vin)
	}
	rs, err := LookupRemoteService(service)
	if err != nil {
		return nil, err
	}
	if action == "" {
		action = rs.Action
	}

	var query url.Values
	if action != "" {
		query = url.Values{"action": {action}}
	}
	var body []byte
	if rs.JSONBody {
		if payload == nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "remote service %s needs a payload", rs.Code)
		}
		if body, err = json.Marshal(payload); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "encode payload: %v", err)
		}
	}

	c.logger.Info().Str("vin", vin).Str("service", rs.Code).Str("action", action).Msg("executing remote service")
	resp, err := c.do(ctx, http.MethodPost, "", rs.URLPath(vin), query, "", body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(resp)) == 0 {
		return nil, nil
	}
	return tagjson.Decode(resp)
}

// do performs one authenticated call. Failures of the call itself never
// trigger a new login or refresh.
func (c *Client) do(ctx context.Context, method, host, path string, query url.Values, vin string, body []byte) ([]byte, error) {
	tok, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	if host == "" {
		host = c.region.APIHost
	}
	u := url.URL{Scheme: "https", Host: host, Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "build request: %v", err)
	}
	req.Header.Set("Authorization", tok.AuthorizationHeader())
	req.Header.Set("bmw-session-id", c.session.SessionID())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if vin != "" {
		req.Header.Set("bmw-vin", vin)
	}

	logger := c.logger.With().Str("method", method).Str("path", path).Logger()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("request failed")
		return nil, &apperrors.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.TransportError{Op: method + " " + path, Err: err}
	}
	if !httpx.IsSuccess(resp.StatusCode) {
		logger.Warn().Int("status", resp.StatusCode).Msg("unexpected status")
		return nil, &apperrors.HTTPStatusError{
			Method:     method,
			URL:        path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	logger.Debug().Int("status", resp.StatusCode).Int("bytes", len(data)).Msg("request complete")
	return data, nil
}

func splitPathSpec(pathSpec string) (string, url.Values, error) {
	path, rawQuery, _ := strings.Cut(pathSpec, "?")
	if !strings.HasPrefix(path, "/") {
		return "", nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "path %q must start with /", pathSpec)
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "query of %q: %v", pathSpec, err)
	}
	return path, query, nil
}

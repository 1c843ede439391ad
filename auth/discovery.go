package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/internal/httpx"
)

const discoveryPath = "/eadrax-ucs/v1/presentation/oauth/config"

// DiscoveryConfig is the per-region OAuth configuration published by the vendor.
// It is fetched before every login and refresh.
type DiscoveryConfig struct {
	ClientName    string   `json:"clientName"`
	ClientID      string   `json:"clientId"`
	ClientSecret  string   `json:"clientSecret"`
	GcdmBaseURL   string   `json:"gcdmBaseUrl"`
	ReturnURL     string   `json:"returnUrl"`
	Brand         string   `json:"brand"`
	Language      string   `json:"language"`
	Scopes        []string `json:"scopes"`
	PromptValues  []string `json:"promptValues"`
	TokenEndpoint string   `json:"tokenEndpoint"`
}

// AuthenticateURL is the endpoint used by login stages 1 and 2.
func (c DiscoveryConfig) AuthenticateURL() string {
	return strings.TrimRight(c.GcdmBaseURL, "/") + "/gcdm/oauth/authenticate"
}

func (c DiscoveryConfig) validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if c.GcdmBaseURL == "" {
		missing = append(missing, "gcdmBaseUrl")
	}
	if c.TokenEndpoint == "" {
		missing = append(missing, "tokenEndpoint")
	}
	if len(missing) > 0 {
		return &apperrors.AuthStageError{Stage: StageDiscovery, Reason: "missing " + strings.Join(missing, ", ")}
	}
	return nil
}

// Discover fetches the OAuth configuration for region.
func (n *Negotiator) Discover(ctx context.Context, region Region, sessionID string) (*DiscoveryConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+region.APIHost+discoveryPath, nil)
	if err != nil {
		return nil, &apperrors.AuthStageError{Stage: StageDiscovery, Err: err}
	}
	n.setAppHeaders(req, region, sessionID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.TransportError{Op: "auth " + StageDiscovery, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.TransportError{Op: "auth " + StageDiscovery, Err: err}
	}
	if !httpx.IsSuccess(resp.StatusCode) {
		return nil, &apperrors.AuthStageError{Stage: StageDiscovery, StatusCode: resp.StatusCode, Reason: snippet(body)}
	}

	var cfg DiscoveryConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, &apperrors.AuthStageError{Stage: StageDiscovery, StatusCode: resp.StatusCode, Reason: "invalid json", Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

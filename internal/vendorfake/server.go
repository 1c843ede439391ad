// Package vendorfake emulates the vendor's discovery, identity and vehicle
// endpoints over TLS for tests.
package vendorfake

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/jrsteele09/go-connecteddrive/auth"
)

// Route names used by Count.
const (
	RouteDiscovery    = "discovery"
	RouteAuthenticate = "authenticate"
	RouteAuthorize    = "authorize"
	RouteToken        = "token"
	RouteRefresh      = "refresh"
	RouteAPI          = "api"
)

const (
	ClientID     = "fake-client"
	ClientSecret = "fake-secret"
	Username     = "driver@example.com"
	Password     = "s3cret"
	Captcha      = "captcha-token"

	authorizationArtifact = "sso-artifact"
	returnURL             = "com.bmw.connected://oauth"
)

// Server is a fake vendor backend. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu                sync.Mutex
	counts            map[string]int
	failures          map[string][]int
	challenges        map[string]string // code -> code_challenge
	validAccess       map[string]bool
	issued            int
	tokens            int
	expiresIn         int
	expiresInString   bool
	omitRefreshToken  bool
	discoveryOverride map[string]any
	handlers          map[string]http.HandlerFunc
	headers           map[string]http.Header
}

func New() *Server {
	s := &Server{
		counts:      map[string]int{},
		failures:    map[string][]int{},
		challenges:  map[string]string{},
		validAccess: map[string]bool{},
		expiresIn:   3600,
		handlers:    map[string]http.HandlerFunc{},
		headers:     map[string]http.Header{},
	}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Region points a region at the fake server.
func (s *Server) Region() auth.Region {
	return auth.Region{
		Name:            "fake",
		APIHost:         strings.TrimPrefix(s.URL, "https://"),
		SubscriptionKey: "fake-subscription",
		UserAgentSuffix: "row",
	}
}

// Fail makes the next len(statuses) calls of route answer with those statuses.
func (s *Server) Fail(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// SetExpiresIn sets expires_in of issued tokens; zero omits the field.
func (s *Server) SetExpiresIn(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// QuoteExpiresIn sends expires_in as a JSON string, as some gateways do.
func (s *Server) QuoteExpiresIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresInString = true
}

// OmitRefreshToken stops the token endpoint from rotating refresh tokens.
func (s *Server) OmitRefreshToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitRefreshToken = true
}

// OverrideDiscovery replaces fields of the discovery document.
func (s *Server) OverrideDiscovery(fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoveryOverride = fields
}

// Handle registers an authenticated vehicle API route.
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method+" "+path] = h
}

// Count reports how often route was hit.
func (s *Server) Count(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[route]
}

// LastHeaders returns the headers of the latest request to route.
func (s *Server) LastHeaders(route string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[route]
}

// AccessToken returns the nth issued access token, counting from 1.
func AccessToken(n int) string { return fmt.Sprintf("access-%d", n) }

// RefreshToken returns the nth issued refresh token, counting from 1.
func RefreshToken(n int) string { return fmt.Sprintf("refresh-%d", n) }

// RevokeAccess makes the server reject every issued access token.
func (s *Server) RevokeAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validAccess = map[string]bool{}
}

func (s *Server) hit(route string, r *http.Request) (status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[route]++
	s.headers[route] = r.Header.Clone()
	if queue := s.failures[route]; len(queue) > 0 {
		s.failures[route] = queue[1:]
		return queue[0]
	}
	return 0
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/eadrax-ucs/v1/presentation/oauth/config":
		s.discovery(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/gcdm/oauth/authenticate":
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("authorization") != "" {
			s.authorize(w, r)
			return
		}
		s.authenticate(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/gcdm/oauth/token":
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.token(w, r)
	default:
		s.api(w, r)
	}
}

func (s *Server) discovery(w http.ResponseWriter, r *http.Request) {
	if status := s.hit(RouteDiscovery, r); status != 0 {
		http.Error(w, "discovery failure", status)
		return
	}
	doc := map[string]any{
		"clientName":    "mybmwapp",
		"clientId":      ClientID,
		"clientSecret":  ClientSecret,
		"gcdmBaseUrl":   s.URL,
		"returnUrl":     returnURL,
		"brand":         "bmw",
		"language":      "en",
		"scopes":        []string{"openid", "profile", "vehicle_data", "remote_services"},
		"promptValues":  []string{"login"},
		"tokenEndpoint": s.URL + "/gcdm/oauth/token",
	}
	s.mu.Lock()
	for k, v := range s.discoveryOverride {
		doc[k] = v
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	if status := s.hit(RouteAuthenticate, r); status != 0 {
		http.Error(w, "quota exceeded", status)
		return
	}
	f := r.PostForm
	if f.Get("username") != Username || f.Get("password") != Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if r.Header.Get("hcaptchatoken") != Captcha {
		http.Error(w, "captcha required", http.StatusBadRequest)
		return
	}
	if f.Get("client_id") != ClientID || f.Get("code_challenge_method") != "S256" || f.Get("code_challenge") == "" {
		http.Error(w, "bad pkce request", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"redirect_to": "redirect_uri=" + returnURL + "?authorization=" + authorizationArtifact,
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	if status := s.hit(RouteAuthorize, r); status != 0 {
		http.Error(w, "authorize failure", status)
		return
	}
	cookie, err := r.Cookie("GCDMSSO")
	if err != nil || cookie.Value != authorizationArtifact || r.PostForm.Get("authorization") != authorizationArtifact {
		http.Error(w, "missing sso cookie", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	s.issued++
	code := fmt.Sprintf("code-%d", s.issued)
	s.challenges[code] = r.PostForm.Get("code_challenge")
	s.mu.Unlock()

	w.Header().Set("Location", returnURL+"?code="+code+"&state="+r.PostForm.Get("state"))
	w.WriteHeader(http.StatusFound)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	route := RouteToken
	if r.PostForm.Get("grant_type") == "refresh_token" {
		route = RouteRefresh
	}
	if status := s.hit(route, r); status != 0 {
		writeJSON(w, status, map[string]string{"error": "temporarily_unavailable"})
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch route {
	case RouteToken:
		code := r.PostForm.Get("code")
		challenge, found := s.challenges[code]
		delete(s.challenges, code)
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if !found || base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case RouteRefresh:
		if !strings.HasPrefix(r.PostForm.Get("refresh_token"), "refresh-") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	}

	s.tokens++
	n := s.tokens
	access := AccessToken(n)
	s.validAccess[access] = true
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"scope":        "openid vehicle_data",
		"id_token":     "id-" + access,
	}
	if !s.omitRefreshToken {
		body["refresh_token"] = RefreshToken(n)
	}
	switch {
	case s.expiresIn > 0 && s.expiresInString:
		body["expires_in"] = strconv.Itoa(s.expiresIn)
	case s.expiresIn > 0:
		body["expires_in"] = s.expiresIn
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) api(w http.ResponseWriter, r *http.Request) {
	s.hit(RouteAPI, r)
	s.mu.Lock()
	h, ok := s.handlers[r.Method+" "+r.URL.Path]
	authorized := s.validAccess[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	s.mu.Unlock()
	if !authorized {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

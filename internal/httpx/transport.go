package httpx

import (
	"net/http"
)

// HeaderTransport sets a fixed set of headers on every outgoing request unless
// the request already carries them.
type HeaderTransport struct {
	Transport http.RoundTripper
	Headers   http.Header
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	for name, values := range t.Headers {
		if req.Header.Get(name) != "" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return t.transport().RoundTrip(req)
}

func (t *HeaderTransport) transport() http.RoundTripper {
	if t.Transport == nil {
		return http.DefaultTransport
	}
	return t.Transport
}

// WithHeaders returns a copy of client whose transport adds headers.
func WithHeaders(client *http.Client, headers http.Header) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	c.Transport = &HeaderTransport{Transport: client.Transport, Headers: headers.Clone()}
	return &c
}

// NoRedirect returns a copy of client that hands redirect responses back to
// the caller instead of following them.
func NoRedirect(client *http.Client) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

// IsRedirect reports whether code is an HTTP redirect status.
func IsRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// IsSuccess reports whether code is 2xx.
func IsSuccess(code int) bool {
	return code >= 200 && code <= 299
}

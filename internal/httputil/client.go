// Package httputil holds the outbound HTTP client shared by remote integrations.
package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout = 60 * time.Second
	UserAgent      = "fissure/1.0"
)

type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

// NewClient returns an HTTP client with the standard timeout that identifies
// itself as fissure.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: userAgentTransport{base: http.DefaultTransport},
	}
}

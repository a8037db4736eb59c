package datapool

import (
	"net/http"
	"time"
)

// Session is the authenticated portal connection pools and entries issue
// their requests through. *maestro.Client implements it; tests provide
// fakes.
type Session interface {
	// BaseURL returns the portal address without a trailing slash.
	BaseURL() string
	// Headers returns the authentication headers for pool requests.
	Headers() http.Header
	// HTTPClient returns the client used for pool requests. A nil return
	// falls back to http.DefaultClient.
	HTTPClient() *http.Client
	// Timeout bounds a single round trip when the caller's context carries
	// no deadline.
	Timeout() time.Duration
}

func sessionClient(s Session) *http.Client {
	if c := s.HTTPClient(); c != nil {
		return c
	}
	return http.DefaultClient
}

func applyHeaders(req *http.Request, s Session) {
	for name, values := range s.Headers() {
		for _, value := range values {
			req.Header.Set(name, value)
		}
	}
}

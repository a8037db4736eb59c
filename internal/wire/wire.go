// Package wire holds the HTTP plumbing shared by the portal backends and the
// datapool protocol: request construction, bounded response reads, and the
// mapping from non-success statuses to errors that keep the server's own
// message text.
package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxResponseBytes bounds how much of an API response body is read.
const MaxResponseBytes = 1 << 20

// DefaultTimeout applies when a request context carries no deadline and the
// caller configured none.
const DefaultTimeout = 30 * time.Second

// Header names used by the modern portal API.
const (
	HeaderToken        = "token"
	HeaderOrganization = "organization"
)

// RequestError is any non-success answer from the portal. Message carries the
// server-provided text when the body was parseable, Body the raw text
// otherwise.
type RequestError struct {
	Op      string
	Status  int
	Message string
	Body    string
}

func (e *RequestError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = strings.TrimSpace(e.Body)
	}
	if detail == "" {
		detail = http.StatusText(e.Status)
	}
	if e.Op == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, detail)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, detail)
}

type serverErrorBody struct {
	Message string `json:"message"`
}

// Success reports whether the response status is in the 2xx range.
func Success(resp *http.Response) bool {
	return StatusSuccess(resp.StatusCode)
}

// StatusSuccess reports whether code is in the 2xx range.
func StatusSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// DecodeError turns a non-success response into a *RequestError, consuming
// the body.
func DecodeError(resp *http.Response, op string) *RequestError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return &RequestError{Op: op, Status: resp.StatusCode}
	}
	return ErrorFromBody(op, resp.StatusCode, body)
}

// ErrorFromBody builds a *RequestError from an already consumed response.
// The portal reports failures as {"message": ...}; anything else is kept
// verbatim.
func ErrorFromBody(op string, status int, body []byte) *RequestError {
	reqErr := &RequestError{Op: op, Status: status}

	var parsed serverErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		reqErr.Message = parsed.Message
		return reqErr
	}
	reqErr.Body = string(body)
	return reqErr
}

// JSONRequest builds a request with a JSON-encoded body. A nil body sends no
// payload.
func JSONRequest(ctx context.Context, method string, endpoint string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// FormRequest builds a form-encoded POST the legacy API understands.
func FormRequest(ctx context.Context, endpoint string, values url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// GetRequest builds a GET with optional query values.
func GetRequest(ctx context.Context, endpoint string, values url.Values) (*http.Request, error) {
	if len(values) > 0 {
		endpoint = endpoint + "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// DecodeJSON decodes a bounded read of the response body into v.
func DecodeJSON(resp *http.Response, v any) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ReadBody reads at most MaxResponseBytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// RequestContext applies timeout when ctx has no deadline of its own. The
// returned cancel func is always safe to call.
func RequestContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

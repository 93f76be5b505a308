// Package transport is the ambient HTTP transport layer gateway clients
// build on. It rebuilds the teacher SDK's own (unretrieved) pkg/transport
// package from the Doer + NewClient(doer, baseURL) shape observed at its
// call sites in pkg/clob/heartbeat and pkg/clob/rfq's tests: a Client
// wraps a Doer (anything shaped like *http.Client) and a base URL, and
// exposes small JSON-in/JSON-out helpers domain packages build on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Doer is satisfied by *http.Client; accepting it instead of a concrete
// client lets tests substitute a static responder without a real socket.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a thin JSON-over-HTTP client shared by every pkg/gateway
// wrapper.
type Client struct {
	doer    Doer
	baseURL string
}

// NewClient returns a Client issuing requests against baseURL through
// doer.
func NewClient(doer Doer, baseURL string) *Client {
	return &Client{doer: doer, baseURL: strings.TrimRight(baseURL, "/")}
}

// APIError wraps a non-2xx HTTP response, carrying the status code so
// callers can distinguish transient (5xx, 429, 408) from persistent
// (other 4xx) failures per spec.md §7.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying: rate limits,
// server errors, and request timeouts.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500
}

// Get issues a GET to path with the given query values and decodes the
// JSON response body into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	return c.do(req, out)
}

// Post issues a POST of the JSON encoding of body to path and decodes
// the JSON response into out (nil to discard the body).
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.send(ctx, http.MethodPost, path, body, out)
}

// Delete issues a DELETE of the JSON encoding of body to path and
// decodes the JSON response into out.
func (c *Client) Delete(ctx context.Context, path string, body any, out any) error {
	return c.send(ctx, http.MethodDelete, path, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("transport: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

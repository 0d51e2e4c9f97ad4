// Package httpclient posts JSON to the pricing feed and the catalog GraphQL
// endpoint and classifies failures for the retry layer.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds one request including reading the body
	DefaultTimeout = 30 * time.Second
	// MaxResponseSize is the largest response body accepted (100MB)
	MaxResponseSize = 100 * 1024 * 1024
	// UserAgent identifies the server to upstream APIs
	UserAgent = "price-sync-server/1.0"

	maxErrorBodySize = 4096
)

// Client posts a JSON payload and returns the body of a 2xx response.
// Non-2xx responses are returned as *HTTPError.
type Client interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, error)
}

// DefaultClient implements Client on net/http
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient returns a client with the given overall timeout; zero
// means DefaultTimeout
func NewDefaultClient(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{client: &http.Client{Timeout: timeout}}
}

// PostJSON implements Client
func (c *DefaultClient) PostJSON(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newResponseError(resp, url)
	}
	return readBody(resp)
}

func newResponseError(resp *http.Response, url string) *HTTPError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        url,
		Message:    resp.Status,
		Body:       string(bytes.TrimSpace(snippet)),
		Delay:      parseRetryAfter(resp.Header, time.Now()),
	}
}

// readBody reads at most MaxResponseSize bytes, failing beyond that
func readBody(resp *http.Response) ([]byte, error) {
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

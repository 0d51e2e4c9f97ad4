package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-2xx response
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
	Body       string
	// Delay is the server's Retry-After, zero when absent
	Delay time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d for URL %s: %s: %s", e.StatusCode, e.URL, e.Message, e.Body)
}

// RetryAfter lets the retry layer honor the server's requested delay
func (e *HTTPError) RetryAfter() time.Duration {
	return e.Delay
}

// IsRetryable reports whether err is worth retrying: 429, 5xx and transport
// failures are, other client errors and caller cancellation are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// Package auth authenticates trigger requests to the price sync server.
//
// Two credentials are supported, each enabled by configuring its secret:
// a static bearer token for every protected route, and the Shopify webhook
// signature (X-Shopify-Hmac-Sha256) for the webhook route.
package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// HeaderShopifyHMAC carries the base64 HMAC-SHA256 of a webhook body
const HeaderShopifyHMAC = "X-Shopify-Hmac-Sha256"

// maxWebhookBody bounds the body read for signature verification
const maxWebhookBody = 1 << 20

// RFC 6750 Section 3 error codes
const (
	errorCodeInvalidRequest = "invalid_request"
	errorCodeInvalidToken   = "invalid_token"
)

const defaultRealm = "price-sync"

var (
	errMissingCredentials = errors.New("missing or malformed authorization header")
	errInvalidToken       = errors.New("invalid token")
	errInvalidSignature   = errors.New("invalid webhook signature")
)

// triggerMiddleware checks the configured credentials on every request it wraps
type triggerMiddleware struct {
	token         []byte
	webhookSecret []byte
	webhookPath   string
	realm         string
	logger        *zap.Logger
}

// Middleware returns an HTTP middleware function that performs authentication.
func (m *triggerMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn("Authentication failed",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path))

			code := errorCodeInvalidToken
			if errors.Is(err, errMissingCredentials) {
				code = errorCodeInvalidRequest
			}
			m.writeError(w, http.StatusUnauthorized, code, err.Error())
			return
		}

		m.logger.Debug("Authentication successful",
			zap.String("method", method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// authenticate returns the credential kind that admitted r
func (m *triggerMiddleware) authenticate(r *http.Request) (string, error) {
	if m.webhookSecret != nil && r.URL.Path == m.webhookPath {
		if signature := r.Header.Get(HeaderShopifyHMAC); signature != "" {
			if err := m.verifySignature(r, signature); err != nil {
				return "", err
			}
			return "webhook-signature", nil
		}
		if m.token == nil {
			return "", errMissingCredentials
		}
	}

	if m.token == nil {
		return "anonymous", nil
	}

	token, err := extractBearerToken(r)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(token), m.token) != 1 {
		return "", errInvalidToken
	}
	return "token", nil
}

// verifySignature checks signature against the request body and restores
// the body for the next handler
func (m *triggerMiddleware) verifySignature(r *http.Request, signature string) error {
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errInvalidSignature
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return fmt.Errorf("reading webhook body: %w", err)
	}
	if len(body) > maxWebhookBody {
		return fmt.Errorf("webhook body exceeds %d bytes", maxWebhookBody)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if !hmac.Equal(want, Sign(m.webhookSecret, body)) {
		return errInvalidSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body under secret, as Shopify computes
// it for webhook deliveries
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMissingCredentials
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingCredentials
	}
	return token, nil
}

// sanitizeHeaderValue removes characters that could enable header injection attacks.
// This includes newlines, carriage returns, and unescaped quotes.
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	// Escape quotes for use in quoted-string (RFC 7230)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// writeError writes a JSON error response with RFC 6750 compliant WWW-Authenticate header.
func (m *triggerMiddleware) writeError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(m.realm), errCode, sanitizeHeaderValue(description)))
	w.WriteHeader(status)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// WrapWithPublicPaths wraps an auth middleware to bypass authentication for public paths.
// Requests to public paths are passed directly to the next handler without authentication,
// while all other requests go through the provided auth middleware.
func WrapWithPublicPaths(
	authMw func(http.Handler) http.Handler,
	publicPaths []string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		// Pre-wrap the handler once during initialization, not per-request
		authWrappedNext := authMw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsPublicPath(r.URL.Path, publicPaths) {
				authWrappedNext.ServeHTTP(w, r)
			} else {
				next.ServeHTTP(w, r)
			}
		})
	}
}

package auth

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/config"
)

const (
	testToken  = "trigger-token"
	testSecret = "webhook-secret"
)

func signature(secret, body string) string {
	return base64.StdEncoding.EncodeToString(Sign([]byte(secret), []byte(body)))
}

// echoHandler records that it was called and echoes the request body
func echoHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        *config.AuthConfig
		method     string
		path       string
		body       string
		headers    map[string]string
		wantStatus int
		wantCalled bool
	}{
		{
			name:       "nil config is anonymous",
			cfg:        nil,
			path:       "/update-sku/A-1",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "empty config is anonymous",
			cfg:        &config.AuthConfig{Realm: "ignored"},
			path:       "/webhook",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "token required and missing",
			cfg:        &config.AuthConfig{Token: testToken},
			path:       "/update-sku/A-1",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token required and wrong",
			cfg:        &config.AuthConfig{Token: testToken},
			path:       "/logs",
			headers:    map[string]string{"Authorization": "Bearer nope"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic auth is not a bearer token",
			cfg:        &config.AuthConfig{Token: testToken},
			path:       "/logs",
			headers:    map[string]string{"Authorization": "Basic " + testToken},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token accepted",
			cfg:        &config.AuthConfig{Token: testToken},
			path:       "/update-sku/A-1",
			headers:    map[string]string{"Authorization": "Bearer " + testToken},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "public path bypasses token",
			cfg:        &config.AuthConfig{Token: testToken},
			path:       "/health",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "traversal out of public path is protected",
			cfg:        &config.AuthConfig{Token: testToken},
			path:       "/health/../logs",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid webhook signature",
			cfg:        &config.AuthConfig{WebhookSecret: testSecret},
			method:     http.MethodPost,
			path:       "/webhook",
			body:       `{"id":1}`,
			headers:    map[string]string{HeaderShopifyHMAC: signature(testSecret, `{"id":1}`)},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "signature over a different body",
			cfg:        &config.AuthConfig{WebhookSecret: testSecret},
			method:     http.MethodPost,
			path:       "/webhook",
			body:       `{"id":2}`,
			headers:    map[string]string{HeaderShopifyHMAC: signature(testSecret, `{"id":1}`)},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "signature that is not base64",
			cfg:        &config.AuthConfig{WebhookSecret: testSecret},
			method:     http.MethodPost,
			path:       "/webhook",
			headers:    map[string]string{HeaderShopifyHMAC: "%%%"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unsigned webhook with only a secret configured",
			cfg:        &config.AuthConfig{WebhookSecret: testSecret},
			method:     http.MethodPost,
			path:       "/webhook",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unsigned webhook falls back to token",
			cfg:        &config.AuthConfig{WebhookSecret: testSecret, Token: testToken},
			method:     http.MethodPost,
			path:       "/webhook",
			headers:    map[string]string{"Authorization": "Bearer " + testToken},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "secret alone leaves other routes open",
			cfg:        &config.AuthConfig{WebhookSecret: testSecret},
			method:     http.MethodPost,
			path:       "/update-sku/A-1",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "custom public paths replace defaults",
			cfg:        &config.AuthConfig{Token: testToken, PublicPaths: []string{"/logs"}},
			path:       "/health",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			handler := NewAuthMiddleware(tt.cfg, zap.NewNop())(echoHandler(&called))

			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.path, strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCalled, called)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `Bearer realm="`)
				assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestWebhookBodyIsRestored(t *testing.T) {
	t.Parallel()

	body := `{"product":{"id":42}}`
	called := false
	handler := NewAuthMiddleware(&config.AuthConfig{WebhookSecret: testSecret}, nil)(echoHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(HeaderShopifyHMAC, signature(testSecret, body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.True(t, called)
	assert.Equal(t, body, rr.Body.String(), "next handler must see the original body")
}

func TestWebhookBodyTooLarge(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("a", maxWebhookBody+1)
	called := false
	handler := NewAuthMiddleware(&config.AuthConfig{WebhookSecret: testSecret}, nil)(echoHandler(&called))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(HeaderShopifyHMAC, signature(testSecret, body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	handler := NewAuthMiddleware(&config.AuthConfig{Token: testToken, Realm: "pricing"}, nil)(echoHandler(new(bool)))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logs", nil))
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `realm="pricing", error="invalid_request"`)

	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
}

func TestSanitizeHeaderValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean value", "price-sync", "price-sync"},
		{"removes newline", "realm\ninjected: evil", "realminjected: evil"},
		{"removes carriage return", "realm\rinjected", "realminjected"},
		{"removes CRLF", "realm\r\nX-Injected: evil", "realmX-Injected: evil"},
		{"escapes quotes", `realm"with"quotes`, `realm\"with\"quotes`},
		{"handles multiple issues", "bad\r\n\"value\"", `bad\"value\"`},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sanitizeHeaderValue(tt.input))
		})
	}
}

func TestAnonymousMiddleware(t *testing.T) {
	t.Parallel()

	called := false
	wrapped := anonymousMiddleware(echoHandler(&called))

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	assert.True(t, called, "handler should be called")
	assert.Equal(t, http.StatusOK, rr.Code)
}

package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/price-sync-server/internal/httpclient"
	"github.com/stacklok/price-sync-server/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
}

// newGraphQLServer serves the responses in order, repeating the last one
func newGraphQLServer(t *testing.T, calls *atomic.Int32, responses ...func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		body, _ := io.ReadAll(r.Body)
		var req graphQLRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.NotEmpty(t, req.Query)
		responses[min(n, len(responses)-1)](w)
	}))
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return server
}

func respond(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(url string) *Client {
	return NewClient(url, "shpat_test", httpclient.NewDefaultClient(5*time.Second), WithRetryPolicy(fastRetry()))
}

func TestClient_Execute(t *testing.T) {
	t.Parallel()

	throttled := `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`
	ok := `{"data":{"shop":{"name":"test"}}}`

	tests := []struct {
		name          string
		responses     []func(w http.ResponseWriter)
		expectedCalls int32
		wantErr       bool
		checkErr      func(t *testing.T, err error)
	}{
		{
			name:          "success on first attempt",
			responses:     []func(http.ResponseWriter){respond(http.StatusOK, ok)},
			expectedCalls: 1,
		},
		{
			name:          "throttled then success",
			responses:     []func(http.ResponseWriter){respond(http.StatusOK, throttled), respond(http.StatusOK, ok)},
			expectedCalls: 2,
		},
		{
			name:          "server error then success",
			responses:     []func(http.ResponseWriter){respond(http.StatusBadGateway, "bad gateway"), respond(http.StatusOK, ok)},
			expectedCalls: 2,
		},
		{
			name:          "rate limited then success",
			responses:     []func(http.ResponseWriter){respond(http.StatusTooManyRequests, ""), respond(http.StatusOK, ok)},
			expectedCalls: 2,
		},
		{
			name:          "graphql error is not retried",
			responses:     []func(http.ResponseWriter){respond(http.StatusOK, `{"errors":[{"message":"Field 'foo' doesn't exist"}]}`)},
			expectedCalls: 1,
			wantErr:       true,
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var gqlErr *GraphQLError
				require.ErrorAs(t, err, &gqlErr)
				assert.False(t, gqlErr.Throttled)
				assert.Contains(t, err.Error(), "Field 'foo'")
			},
		},
		{
			name:          "unauthorized is not retried",
			responses:     []func(http.ResponseWriter){respond(http.StatusUnauthorized, "invalid token")},
			expectedCalls: 1,
			wantErr:       true,
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var httpErr *httpclient.HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
			},
		},
		{
			name:          "retry budget exhausted",
			responses:     []func(http.ResponseWriter){respond(http.StatusServiceUnavailable, "")},
			expectedCalls: 3,
			wantErr:       true,
		},
		{
			name:          "throttled until exhausted",
			responses:     []func(http.ResponseWriter){respond(http.StatusOK, throttled)},
			expectedCalls: 3,
			wantErr:       true,
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var gqlErr *GraphQLError
				require.ErrorAs(t, err, &gqlErr)
				assert.True(t, gqlErr.Throttled)
			},
		},
		{
			name:          "missing data",
			responses:     []func(http.ResponseWriter){respond(http.StatusOK, `{"data":null}`)},
			expectedCalls: 1,
			wantErr:       true,
		},
		{
			name:          "invalid json",
			responses:     []func(http.ResponseWriter){respond(http.StatusOK, `<html>`)},
			expectedCalls: 1,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := newGraphQLServer(t, &calls, tt.responses...)
			client := newTestClient(server.URL)

			data, err := client.Execute(context.Background(), "query { shop { name } }", nil)
			assert.Equal(t, tt.expectedCalls, calls.Load())
			if tt.wantErr {
				require.Error(t, err)
				if tt.checkErr != nil {
					tt.checkErr(t, err)
				}
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, `{"shop":{"name":"test"}}`, string(data))
		})
	}
}

func TestGraphQLEndpoint(t *testing.T) {
	t.Parallel()

	for _, store := range []string{"example.myshopify.com", "https://example.myshopify.com/", "http://example.myshopify.com"} {
		assert.Equal(t, "https://example.myshopify.com/admin/api/2024-10/graphql.json", GraphQLEndpoint(store, "2024-10"))
	}
}

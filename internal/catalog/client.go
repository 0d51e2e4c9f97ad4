package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/httpclient"
	"github.com/stacklok/price-sync-server/internal/otel"
	"github.com/stacklok/price-sync-server/internal/retry"
)

// Executor runs one GraphQL document and returns the raw "data" object
//
//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks -source=client.go Executor
type Executor interface {
	Execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// GraphQLEndpoint returns the Admin GraphQL URL for a store domain
func GraphQLEndpoint(store, apiVersion string) string {
	store = strings.TrimPrefix(store, "https://")
	store = strings.TrimPrefix(store, "http://")
	store = strings.TrimSuffix(store, "/")
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", store, apiVersion)
}

// Client is an Executor for the Admin GraphQL API
type Client struct {
	endpoint string
	token    string
	http     httpclient.Client
	policy   retry.Policy
	logger   *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRetryPolicy sets the retry policy for transient failures
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a GraphQL client for endpoint authenticated with token
func NewClient(endpoint, token string, httpClient httpclient.Client, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		http:     httpClient,
		policy:   retry.DefaultPolicy(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Execute sends the document, retrying transport failures, 429, 5xx and
// THROTTLED responses. Other GraphQL errors are returned without retrying.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	headers := map[string]string{"X-Shopify-Access-Token": c.token}
	req := graphQLRequest{Query: query, Variables: variables}

	op := func() (json.RawMessage, error) {
		body, err := c.http.PostJSON(ctx, c.endpoint, headers, req)
		if err != nil {
			if httpclient.IsRetryable(err) {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		data, err := decodeResponse(body)
		if err != nil {
			var gqlErr *GraphQLError
			if errors.As(err, &gqlErr) && gqlErr.Throttled {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		return data, nil
	}

	notify := func(err error, next time.Duration) {
		otel.RecordRetry(trace.SpanFromContext(ctx), err, next)
		c.logger.Warn("Catalog request failed, retrying",
			zap.Error(err),
			zap.Duration("backoff", next))
	}

	return retry.Do(ctx, c.policy, op, notify)
}

func decodeResponse(body []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON in GraphQL response")
	}
	parsed := gjson.ParseBytes(body)

	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		gqlErr := &GraphQLError{}
		errs.ForEach(func(_, e gjson.Result) bool {
			msg := e.Get("message").String()
			gqlErr.Messages = append(gqlErr.Messages, msg)
			if strings.EqualFold(e.Get("extensions.code").String(), "THROTTLED") ||
				strings.Contains(strings.ToLower(msg), "throttled") {
				gqlErr.Throttled = true
			}
			return true
		})
		return nil, gqlErr
	}

	data := parsed.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, fmt.Errorf("GraphQL response has no data")
	}
	return json.RawMessage(data.Raw), nil
}

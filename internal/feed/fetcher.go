// Package feed fetches reference prices from the external pricing feed.
package feed

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/price-sync-server/internal/httpclient"
	"github.com/stacklok/price-sync-server/internal/otel"
	"github.com/stacklok/price-sync-server/internal/retry"
)

const (
	// DefaultBatchSize is the default number of SKUs per feed request
	DefaultBatchSize = 100
	// DefaultWorkers is the default number of feed requests in flight
	DefaultWorkers = 4
	// DefaultPriceField is the record field that holds the reference price
	DefaultPriceField = "lessThanCasePrice"
)

// Quote is the reference price for one normalized SKU. Found is false when
// the feed had no usable price for it.
type Quote struct {
	SKU   string
	Price decimal.Decimal
	Found bool
}

// Config configures a Fetcher
type Config struct {
	URL        string
	Token      string
	BatchSize  int
	Workers    int
	PriceField string
	Retry      retry.Policy
}

// Fetcher queries the feed in batches
type Fetcher struct {
	cfg    Config
	http   httpclient.Client
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithTracer sets the tracer used for batch spans
func WithTracer(t trace.Tracer) Option {
	return func(f *Fetcher) {
		f.tracer = t
	}
}

// NewFetcher creates a Fetcher. Zero-valued config fields take their defaults.
func NewFetcher(cfg Config, httpClient httpclient.Client, opts ...Option) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PriceField == "" {
		cfg.PriceField = DefaultPriceField
	}
	f := &Fetcher{
		cfg:    cfg,
		http:   httpClient,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type request struct {
	Token string   `json:"token"`
	SKUs  []string `json:"skus"`
}

// FetchPrices returns a quote for every distinct SKU in skus. A batch that
// still fails after retries leaves its SKUs absent; it never fails the call.
func (f *Fetcher) FetchPrices(ctx context.Context, skus []string) map[string]Quote {
	unique := dedupe(skus)
	batches := chunk(unique, f.cfg.BatchSize)

	// one slot per batch so merging does not depend on completion order
	found := make([]map[string]decimal.Decimal, len(batches))

	var g errgroup.Group
	g.SetLimit(f.cfg.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			prices, err := f.fetchBatch(ctx, batch)
			if err != nil {
				f.logger.Warn("Feed batch failed, SKUs marked absent",
					zap.Int("batch", i),
					zap.Int("skus", len(batch)),
					zap.Error(err))
				return nil
			}
			found[i] = prices
			return nil
		})
	}
	_ = g.Wait()

	quotes := make(map[string]Quote, len(unique))
	for _, s := range unique {
		quotes[s] = Quote{SKU: s}
	}
	for _, prices := range found {
		for s, p := range prices {
			if _, requested := quotes[s]; !requested {
				continue
			}
			quotes[s] = Quote{SKU: s, Price: p, Found: true}
		}
	}
	return quotes
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []string) (map[string]decimal.Decimal, error) {
	ctx, span := otel.StartSpan(ctx, f.tracer, "feed.FetchBatch",
		trace.WithAttributes(otel.AttrBatchSize.Int(len(batch))))
	defer span.End()

	payload := request{Token: f.cfg.Token, SKUs: batch}
	op := func() ([]byte, error) {
		body, err := f.http.PostJSON(ctx, f.cfg.URL, nil, payload)
		if err != nil {
			if httpclient.IsRetryable(err) {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		return body, nil
	}
	notify := func(err error, next time.Duration) {
		otel.RecordRetry(span, err, next)
		f.logger.Debug("Feed request failed, retrying",
			zap.Int("skus", len(batch)),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	body, err := retry.Do(ctx, f.cfg.Retry, op, notify)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	prices, err := parseRecords(body, f.cfg.PriceField)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(prices)))
	return prices, nil
}

// parseRecords extracts sku -> price from a feed response. The response is
// an array of records, optionally wrapped in a "data" object. Records whose
// price is null, unparseable or negative are dropped; for a repeated SKU the
// first usable record wins.
func parseRecords(body []byte, priceField string) (map[string]decimal.Decimal, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("feed response is not valid JSON")
	}
	records := gjson.ParseBytes(body)
	if !records.IsArray() {
		records = records.Get("data")
	}
	if !records.IsArray() {
		return nil, fmt.Errorf("feed response is not an array of records")
	}

	prices := make(map[string]decimal.Decimal)
	records.ForEach(func(_, rec gjson.Result) bool {
		s := strings.TrimSpace(rec.Get("sku").String())
		if s == "" {
			return true
		}
		if _, seen := prices[s]; seen {
			return true
		}
		if p, ok := parsePrice(rec.Get(gjsonEscape(priceField))); ok {
			prices[s] = p
		}
		return true
	})
	return prices, nil
}

func parsePrice(v gjson.Result) (decimal.Decimal, bool) {
	var (
		p   decimal.Decimal
		err error
	)
	switch v.Type {
	case gjson.Number:
		p, err = decimal.NewFromString(v.Raw)
	case gjson.String:
		p, err = decimal.NewFromString(strings.TrimSpace(v.Str))
	default:
		return decimal.Zero, false
	}
	if err != nil || p.IsNegative() {
		return decimal.Zero, false
	}
	return p, true
}

// gjsonEscape escapes path metacharacters so field is matched literally
func gjsonEscape(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func dedupe(skus []string) []string {
	out := make([]string, 0, len(skus))
	for _, s := range skus {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

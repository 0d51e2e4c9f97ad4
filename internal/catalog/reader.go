package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/otel"
)

// Reader paginates the catalog product and variant graph
type Reader struct {
	exec     Executor
	pageSize int
	logger   *zap.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	lastStats ReadStats
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithPageSize sets the number of products per page, capped at MaxPageSize
func WithPageSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.pageSize = min(n, MaxPageSize)
		}
	}
}

// WithReaderLogger sets the reader logger
func WithReaderLogger(l *zap.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = l
	}
}

// WithReaderTracer sets the tracer used for page spans
func WithReaderTracer(t trace.Tracer) ReaderOption {
	return func(r *Reader) {
		r.tracer = t
	}
}

// NewReader creates a Reader
func NewReader(exec Executor, opts ...ReaderOption) *Reader {
	r := &Reader{
		exec:     exec,
		pageSize: DefaultPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Items returns a lazy sequence over every variant with a non-empty SKU.
// Each iteration starts a fresh pass from the first page. On a page failure
// the sequence yields one *ReadError and stops.
func (r *Reader) Items(ctx context.Context) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		var stats ReadStats
		defer r.storeStats(&stats)

		var cursor *string
		for {
			page, err := r.fetchProducts(ctx, cursor)
			if err != nil {
				yield(Item{}, &ReadError{Cursor: deref(cursor), Err: err})
				return
			}
			stats.Pages++

			for _, product := range page.Products.Nodes {
				stats.Products++
				variants, err := r.allVariants(ctx, product)
				if err != nil {
					yield(Item{}, &ReadError{Cursor: deref(cursor), Err: err})
					return
				}
				for _, v := range variants {
					stats.Variants++
					sku := strings.TrimSpace(deref(v.SKU))
					if sku == "" {
						stats.SkippedEmptySKU++
						continue
					}
					item := Item{
						ProductID:    product.ID,
						VariantID:    v.ID,
						SKU:          sku,
						CurrentPrice: v.Price,
					}
					if !yield(item, nil) {
						return
					}
				}
			}

			info := page.Products.PageInfo
			if !info.HasNextPage {
				r.logger.Debug("Catalog read complete",
					zap.Int("pages", stats.Pages),
					zap.Int("variants", stats.Variants),
					zap.Int("skipped_empty_sku", stats.SkippedEmptySKU))
				return
			}
			if deref(info.EndCursor) == "" {
				yield(Item{}, &ReadError{
					Cursor: deref(cursor),
					Err:    fmt.Errorf("products page reports more pages but no end cursor"),
				})
				return
			}
			cursor = info.EndCursor
		}
	}
}

// LastStats returns the statistics of the most recent pass over Items
func (r *Reader) LastStats() ReadStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStats
}

// SkippedEmptySKU returns how many variants the most recent pass skipped
// because their SKU was empty
func (r *Reader) SkippedEmptySKU() int {
	return r.LastStats().SkippedEmptySKU
}

// FindBySKU looks up the variant whose SKU matches sku exactly. It returns
// nil, nil when no variant matches.
func (r *Reader) FindBySKU(ctx context.Context, sku string) (*Item, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, nil
	}

	ctx, span := otel.StartSpan(ctx, r.tracer, "catalog.FindBySKU",
		trace.WithAttributes(otel.AttrSKU.String(sku)))
	defer span.End()

	data, err := r.exec.Execute(ctx, variantBySKUQuery, map[string]any{"query": skuSearchQuery(sku)})
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to search variants for sku %s: %w", sku, err)
	}

	var result variantSearch
	if err := json.Unmarshal(data, &result); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to decode variant search: %w", err)
	}

	// the search is not an exact match, so filter on the SKU itself
	for _, n := range result.ProductVariants.Nodes {
		if strings.TrimSpace(deref(n.SKU)) == sku {
			return &Item{
				ProductID:    n.Product.ID,
				VariantID:    n.ID,
				SKU:          sku,
				CurrentPrice: n.Price,
			}, nil
		}
	}
	return nil, nil
}

func (r *Reader) fetchProducts(ctx context.Context, cursor *string) (*productsPage, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "catalog.ReadPage",
		trace.WithAttributes(
			otel.AttrPageSize.Int(r.pageSize),
			otel.AttrHasCursor.Bool(cursor != nil),
		))
	defer span.End()

	vars := map[string]any{"first": r.pageSize}
	if cursor != nil {
		vars["after"] = *cursor
	}
	data, err := r.exec.Execute(ctx, productsQuery, vars)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	var page productsPage
	if err := json.Unmarshal(data, &page); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to decode products page: %w", err)
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(page.Products.Nodes)))
	return &page, nil
}

// allVariants returns the product's variants, fetching the pages beyond the
// first one that came embedded in the products query
func (r *Reader) allVariants(ctx context.Context, product productNode) ([]variantNode, error) {
	variants := product.Variants.Nodes
	info := product.Variants.PageInfo
	for info.HasNextPage {
		after := deref(info.EndCursor)
		if after == "" {
			return nil, fmt.Errorf("variants of product %s report more pages but no end cursor", product.ID)
		}
		data, err := r.exec.Execute(ctx, productVariantsQuery, map[string]any{"id": product.ID, "after": after})
		if err != nil {
			return nil, fmt.Errorf("failed to read variants of product %s: %w", product.ID, err)
		}
		var page productVariantsPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to decode variants of product %s: %w", product.ID, err)
		}
		if page.Product == nil {
			return nil, fmt.Errorf("product %s disappeared while reading variants", product.ID)
		}
		variants = append(variants, page.Product.Variants.Nodes...)
		info = page.Product.Variants.PageInfo
	}
	return variants, nil
}

func (r *Reader) storeStats(stats *ReadStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStats = *stats
}

func skuSearchQuery(sku string) string {
	escaped := strings.ReplaceAll(sku, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return fmt.Sprintf(`sku:"%s"`, escaped)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

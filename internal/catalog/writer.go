package catalog

import (
	"context"
	"strconv"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/price-sync-server/internal/otel"
)

// Writer commits prices with productVariantsBulkUpdate
type Writer struct {
	exec      Executor
	batchSize int
	workers   int
	logger    *zap.Logger
	tracer    trace.Tracer
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithWriteBatchSize sets the maximum number of variants per mutation
func WithWriteBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = min(n, MaxPageSize)
		}
	}
}

// WithWriteWorkers sets how many mutations may be in flight at once
func WithWriteWorkers(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithWriterLogger sets the writer logger
func WithWriterLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// WithWriterTracer sets the tracer used for batch spans
func WithWriterTracer(t trace.Tracer) WriterOption {
	return func(w *Writer) {
		w.tracer = t
	}
}

// NewWriter creates a Writer
func NewWriter(exec Executor, opts ...WriterOption) *Writer {
	w := &Writer{
		exec:      exec,
		batchSize: DefaultWriteBatchSize,
		workers:   DefaultWriteWorkers,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// writeBatch is a slice of one product's updates, with the index of each
// update in the Commit input
type writeBatch struct {
	productID string
	indexes   []int
}

// Commit writes updates and returns one outcome per update, in input order.
// A failed batch never affects the outcomes of other batches.
func (w *Writer) Commit(ctx context.Context, updates []PriceUpdate) []WriteOutcome {
	outcomes := make([]WriteOutcome, len(updates))
	for i, u := range updates {
		outcomes[i] = WriteOutcome{Update: u}
	}

	batches := w.plan(updates)

	var g errgroup.Group
	g.SetLimit(w.workers)
	for _, b := range batches {
		g.Go(func() error {
			// each batch owns a disjoint set of indexes
			for idx, err := range w.commitBatch(ctx, b, updates) {
				outcomes[idx].Err = err
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// plan groups updates by product in first-seen order and splits each group
// into batches of at most batchSize
func (w *Writer) plan(updates []PriceUpdate) []writeBatch {
	var order []string
	groups := make(map[string][]int)
	for i, u := range updates {
		if _, ok := groups[u.ProductID]; !ok {
			order = append(order, u.ProductID)
		}
		groups[u.ProductID] = append(groups[u.ProductID], i)
	}

	var batches []writeBatch
	for _, productID := range order {
		indexes := groups[productID]
		for start := 0; start < len(indexes); start += w.batchSize {
			end := min(start+w.batchSize, len(indexes))
			batches = append(batches, writeBatch{productID: productID, indexes: indexes[start:end]})
		}
	}
	return batches
}

// commitBatch runs one mutation and returns the error for each input index
// that was not confirmed
func (w *Writer) commitBatch(ctx context.Context, b writeBatch, updates []PriceUpdate) map[int]error {
	ctx, span := otel.StartSpan(ctx, w.tracer, "catalog.CommitBatch",
		trace.WithAttributes(
			otel.AttrProductID.String(b.productID),
			otel.AttrBatchSize.Int(len(b.indexes)),
		))
	defer span.End()

	variants := make([]map[string]any, len(b.indexes))
	for i, idx := range b.indexes {
		variants[i] = map[string]any{
			"id":    updates[idx].VariantID,
			"price": updates[idx].Price.StringFixed(2),
		}
	}

	result := make(map[int]error, len(b.indexes))
	data, err := w.exec.Execute(ctx, bulkUpdateMutation, map[string]any{
		"productId": b.productID,
		"variants":  variants,
	})
	if err != nil {
		otel.RecordError(span, err)
		w.logger.Warn("Price batch failed",
			zap.String("product_id", b.productID),
			zap.Int("variants", len(b.indexes)),
			zap.Error(err))
		for _, idx := range b.indexes {
			result[idx] = err
		}
		return result
	}

	payload := gjson.GetBytes(data, "productVariantsBulkUpdate")

	// userErrors that name a variant index fail that variant only; any other
	// userError fails the whole batch
	perItem := make(map[int]*RejectedError)
	var batchErr *RejectedError
	payload.Get("userErrors").ForEach(func(_, ue gjson.Result) bool {
		rej := &RejectedError{Message: ue.Get("message").String()}
		for _, f := range ue.Get("field").Array() {
			rej.Field = append(rej.Field, f.String())
		}
		if pos, ok := variantIndex(rej.Field, len(b.indexes)); ok {
			if _, seen := perItem[pos]; !seen {
				perItem[pos] = rej
			}
			return true
		}
		if batchErr == nil {
			batchErr = rej
		}
		return true
	})

	confirmed := make(map[string]bool)
	payload.Get("productVariants").ForEach(func(_, v gjson.Result) bool {
		confirmed[v.Get("id").String()] = true
		return true
	})

	for pos, idx := range b.indexes {
		switch {
		case batchErr != nil:
			result[idx] = batchErr
		case perItem[pos] != nil:
			result[idx] = perItem[pos]
		case !confirmed[updates[idx].VariantID]:
			result[idx] = &RejectedError{Message: "variant not confirmed in mutation response"}
		default:
			result[idx] = nil
		}
	}

	if batchErr != nil || len(perItem) > 0 {
		w.logger.Info("Price batch partially rejected",
			zap.String("product_id", b.productID),
			zap.Int("rejected", len(perItem)),
			zap.Bool("batch_rejected", batchErr != nil))
	}
	return result
}

// variantIndex extracts i from a userErrors field path ["variants", "<i>", ...]
func variantIndex(field []string, n int) (int, bool) {
	if len(field) < 2 || field[0] != "variants" {
		return 0, false
	}
	i, err := strconv.Atoi(field[1])
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

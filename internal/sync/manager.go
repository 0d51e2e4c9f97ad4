package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/audit"
	"github.com/stacklok/price-sync-server/internal/catalog"
	"github.com/stacklok/price-sync-server/internal/feed"
	"github.com/stacklok/price-sync-server/internal/formula"
	"github.com/stacklok/price-sync-server/internal/otel"
	"github.com/stacklok/price-sync-server/internal/sku"
	"github.com/stacklok/price-sync-server/internal/status"
	"github.com/stacklok/price-sync-server/internal/telemetry"
)

// Request describes one run to perform
type Request struct {
	ID      string
	Kind    status.RunKind
	SKU     string
	Trigger status.Trigger
}

// NewFullRequest creates a full-catalog run request with a fresh run ID
func NewFullRequest(trigger status.Trigger) Request {
	return Request{ID: uuid.NewString(), Kind: status.RunKindFull, Trigger: trigger}
}

// NewSKURequest creates a single-SKU run request with a fresh run ID
func NewSKURequest(sku string, trigger status.Trigger) Request {
	return Request{ID: uuid.NewString(), Kind: status.RunKindSKU, SKU: sku, Trigger: trigger}
}

// Manager performs price synchronization runs
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks -source=manager.go Manager,CatalogReader,PriceFetcher,CatalogWriter,Pricer
type Manager interface {
	// Run executes one run to completion and returns its summary. Fatal errors
	// are reported through RunSummary.Error; Run never returns nil.
	Run(ctx context.Context, req Request) *status.RunSummary
}

// CatalogReader reads catalog variants
type CatalogReader interface {
	Items(ctx context.Context) iter.Seq2[catalog.Item, error]
	FindBySKU(ctx context.Context, sku string) (*catalog.Item, error)
	SkippedEmptySKU() int
}

// PriceFetcher looks up reference prices by normalized SKU
type PriceFetcher interface {
	FetchPrices(ctx context.Context, skus []string) map[string]feed.Quote
}

// CatalogWriter commits computed prices
type CatalogWriter interface {
	Commit(ctx context.Context, updates []catalog.PriceUpdate) []catalog.WriteOutcome
}

// Pricer computes catalog prices from reference prices
type Pricer interface {
	Price(x decimal.Decimal) (decimal.Decimal, error)
	Validate() error
}

// Option configures the default manager
type Option func(*defaultManager)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *defaultManager) {
		m.logger = l
	}
}

// WithSink sets the sink that receives every run summary
func WithSink(s audit.Sink) Option {
	return func(m *defaultManager) {
		m.sink = s
	}
}

// WithTracer sets the tracer used for run and phase spans
func WithTracer(t trace.Tracer) Option {
	return func(m *defaultManager) {
		m.tracer = t
	}
}

// WithMetrics sets the run and catalog metric recorders. Either may be nil.
func WithMetrics(run *telemetry.RunMetrics, cat *telemetry.CatalogMetrics) Option {
	return func(m *defaultManager) {
		m.runMetrics = run
		m.catalogMetrics = cat
	}
}

// defaultManager is the default implementation of Manager
type defaultManager struct {
	reader  CatalogReader
	fetcher PriceFetcher
	writer  CatalogWriter
	pricer  Pricer

	sink           audit.Sink
	logger         *zap.Logger
	tracer         trace.Tracer
	runMetrics     *telemetry.RunMetrics
	catalogMetrics *telemetry.CatalogMetrics
	now            func() time.Time
}

// NewManager creates a Manager from its collaborators
func NewManager(
	reader CatalogReader, fetcher PriceFetcher, writer CatalogWriter, pricer Pricer, opts ...Option,
) Manager {
	m := &defaultManager{
		reader:  reader,
		fetcher: fetcher,
		writer:  writer,
		pricer:  pricer,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// run holds the working state of a single run
type run struct {
	req     Request
	phases  *phaseMachine
	summary *status.RunSummary
	logger  *zap.Logger

	items   []catalog.Item
	results []status.UpdateResult
	// pending holds the indexes of results still waiting for a decision
	pending []int
	quotes  map[string]feed.Quote
	updates []catalog.PriceUpdate
	// updateIdx maps each update to its result index
	updateIdx []int
}

// Run performs the run described by req
func (m *defaultManager) Run(ctx context.Context, req Request) *status.RunSummary {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Kind == "" {
		req.Kind = status.RunKindFull
	}

	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.Run",
		trace.WithAttributes(
			otel.AttrRunID.String(req.ID),
			otel.AttrRunKind.String(string(req.Kind)),
			otel.AttrRunTrigger.String(string(req.Trigger)),
		),
	)
	defer span.End()

	r := &run{
		req:    req,
		phases: newPhaseMachine(),
		summary: &status.RunSummary{
			RunID:   req.ID,
			Kind:    req.Kind,
			Trigger: req.Trigger,
			SKU:     req.SKU,
			Phase:   status.PhaseIdle,
			Results: []status.UpdateResult{},
		},
		logger: m.logger.With(
			zap.String("run_id", req.ID),
			zap.String("kind", string(req.Kind)),
			zap.String("trigger", string(req.Trigger)),
		),
	}

	r.logger.Info("Starting price sync run", zap.String("sku", req.SKU))

	if err := m.execute(ctx, r); err != nil {
		r.summary.Error = err.Error()
		var runErr *Error
		if errors.As(err, &runErr) {
			r.summary.Phase = runErr.Phase
		} else {
			r.summary.Phase = r.phases.Current()
		}
		otel.RecordError(span, err)
		r.logger.Error("Price sync run aborted",
			zap.String("phase", string(r.summary.Phase)),
			zap.Error(err))
	}

	for _, res := range r.results {
		r.summary.Add(res)
	}

	m.summarize(ctx, r)
	return r.summary
}

// execute walks the run through Reading, Fetching, Computing and Writing
func (m *defaultManager) execute(ctx context.Context, r *run) error {
	steps := []struct {
		phase status.Phase
		fn    func(context.Context, *run) error
	}{
		{status.PhaseReading, m.read},
		{status.PhaseFetching, m.fetch},
		{status.PhaseComputing, m.compute},
		{status.PhaseWriting, m.write},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return newError(r.phases.Current(), err, "run cancelled")
		}
		if err := r.phases.Transition(step.phase); err != nil {
			return err
		}
		// success leaves the last active phase in the summary
		r.summary.Phase = step.phase
		if step.phase == status.PhaseReading {
			r.summary.StartedAt = m.now()
		}
		r.logger.Debug("Entering phase", zap.String("phase", string(step.phase)))
		if err := step.fn(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *defaultManager) read(ctx context.Context, r *run) error {
	if err := m.pricer.Validate(); err != nil {
		return newError(status.PhaseReading, &FormulaValidationError{Err: err}, "pricing formula rejected")
	}

	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.Read")
	defer span.End()

	if r.req.Kind == status.RunKindSKU {
		item, err := m.reader.FindBySKU(ctx, r.req.SKU)
		if err != nil {
			otel.RecordError(span, err)
			return newError(status.PhaseReading, err, "looking up SKU %q", r.req.SKU)
		}
		if item == nil {
			r.results = append(r.results, status.UpdateResult{
				OriginalSKU:   r.req.SKU,
				NormalizedSKU: sku.Normalize(r.req.SKU),
			}.Failed(ReasonSKUNotFound))
			r.logger.Warn("SKU not found in catalog", zap.String("sku", r.req.SKU))
			return nil
		}
		r.items = []catalog.Item{*item}
	} else {
		for item, err := range m.reader.Items(ctx) {
			if err != nil {
				otel.RecordError(span, err)
				return newError(status.PhaseReading, err, "reading catalog")
			}
			r.items = append(r.items, item)
		}
		r.summary.MissingSKU = m.reader.SkippedEmptySKU()
		m.catalogMetrics.RecordVariants(ctx, int64(len(r.items)), int64(r.summary.MissingSKU))
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(r.items)))

	for _, item := range r.items {
		normalized := sku.Normalize(item.SKU)
		res := status.UpdateResult{
			VariantID:     item.VariantID,
			ProductID:     item.ProductID,
			OriginalSKU:   item.SKU,
			NormalizedSKU: normalized,
			OldPrice:      item.CurrentPrice,
		}
		if !sku.Queryable(normalized) {
			res = res.Skipped(ReasonEmptyNormalizedSKU)
		} else {
			r.pending = append(r.pending, len(r.results))
		}
		r.results = append(r.results, res)
	}

	r.logger.Info("Catalog read",
		zap.Int("items", len(r.items)),
		zap.Int("queryable", len(r.pending)),
		zap.Int("missing_sku", r.summary.MissingSKU))
	return nil
}

func (m *defaultManager) fetch(ctx context.Context, r *run) error {
	if len(r.pending) == 0 {
		r.quotes = map[string]feed.Quote{}
		return nil
	}

	skus := make([]string, 0, len(r.pending))
	for _, idx := range r.pending {
		skus = append(skus, r.results[idx].NormalizedSKU)
	}

	r.quotes = m.fetcher.FetchPrices(ctx, skus)
	return nil
}

func (m *defaultManager) compute(_ context.Context, r *run) error {
	for _, idx := range r.pending {
		res := r.results[idx]

		quote, ok := r.quotes[strings.TrimSpace(res.NormalizedSKU)]
		if !ok || !quote.Found {
			r.results[idx] = res.Skipped(ReasonNoExternalPrice)
			continue
		}

		price, err := m.pricer.Price(quote.Price)
		switch {
		case errors.Is(err, formula.ErrDivisionByZero):
			r.results[idx] = res.Failed(ReasonDivisionByZero)
			continue
		case err != nil:
			r.results[idx] = res.Failed(ReasonFormulaErrorPrefix + err.Error())
			continue
		}

		if !price.IsPositive() {
			r.results[idx] = res.Failed(ReasonNonPositivePrice)
			continue
		}
		if price.Equal(res.OldPrice) {
			r.results[idx] = res.Skipped(ReasonPriceUnchanged)
			continue
		}

		r.updates = append(r.updates, catalog.PriceUpdate{
			ProductID: res.ProductID,
			VariantID: res.VariantID,
			SKU:       res.OriginalSKU,
			Price:     price,
		})
		r.updateIdx = append(r.updateIdx, idx)
	}
	return nil
}

func (m *defaultManager) write(ctx context.Context, r *run) error {
	if len(r.updates) == 0 {
		return nil
	}

	outcomes := m.writer.Commit(ctx, r.updates)

	for j, idx := range r.updateIdx {
		res := r.results[idx]
		if j >= len(outcomes) {
			r.results[idx] = res.Failed(ReasonWriteFailedPrefix + "no outcome reported")
			continue
		}
		out := outcomes[j]
		if out.Committed() {
			r.results[idx] = res.Updated(out.Update.Price)
			continue
		}
		var rejected *catalog.RejectedError
		if errors.As(out.Err, &rejected) {
			r.results[idx] = res.Failed(ReasonWriteRejectedPrefix + rejected.Message)
		} else {
			r.results[idx] = res.Failed(ReasonWriteFailedPrefix + out.Err.Error())
		}
	}
	return nil
}

// summarize finalizes the summary, hands it to the sink and returns to Idle
func (m *defaultManager) summarize(ctx context.Context, r *run) {
	// a run cancelled before Reading never leaves Idle
	active := r.phases.Current() != status.PhaseIdle
	if active {
		if err := r.phases.Transition(status.PhaseSummarizing); err != nil {
			r.logger.Error("Failed to enter summarizing phase", zap.Error(err))
		}
	}

	r.summary.Finish(m.now())

	m.runMetrics.RecordRunDuration(ctx, string(r.summary.Kind), r.summary.Duration, r.summary.Succeeded())
	m.runMetrics.RecordItems(ctx, string(status.OutcomeUpdated), int64(r.summary.Updated))
	m.runMetrics.RecordItems(ctx, string(status.OutcomeSkipped), int64(r.summary.Skipped))
	m.runMetrics.RecordItems(ctx, string(status.OutcomeFailed), int64(r.summary.Failed))

	if m.sink != nil {
		// the summary must reach the sink even if the run was cancelled
		if err := m.sink.Emit(context.WithoutCancel(ctx), r.summary); err != nil {
			r.logger.Error("Failed to emit run summary", zap.Error(err))
		}
	}

	if active {
		if err := r.phases.Transition(status.PhaseIdle); err != nil {
			r.logger.Error("Failed to return to idle", zap.Error(err))
		}
	}

	r.logger.Info("Price sync run finished",
		zap.Int("updated", r.summary.Updated),
		zap.Int("skipped", r.summary.Skipped),
		zap.Int("failed", r.summary.Failed),
		zap.Duration("duration", r.summary.Duration),
		zap.Bool("success", r.summary.Succeeded()))
}

// String renders a request for logs
func (r Request) String() string {
	if r.Kind == status.RunKindSKU {
		return fmt.Sprintf("%s run %s for SKU %q (%s)", r.Kind, r.ID, r.SKU, r.Trigger)
	}
	return fmt.Sprintf("%s run %s (%s)", r.Kind, r.ID, r.Trigger)
}

// Package telemetry provides OpenTelemetry instrumentation for the price sync server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// CatalogMetricsMeterName is the name used for the catalog metrics meter
	CatalogMetricsMeterName = "github.com/stacklok/price-sync-server/catalog"

	// RunMetricsMeterName is the name used for the run metrics meter
	RunMetricsMeterName = "github.com/stacklok/price-sync-server/sync"
)

// CatalogMetrics holds the OpenTelemetry instruments for catalog metrics
type CatalogMetrics struct {
	variantsTotal metric.Int64Gauge
}

// NewCatalogMetrics creates a new CatalogMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCatalogMetrics(provider metric.MeterProvider) (*CatalogMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CatalogMetricsMeterName)

	variantsTotal, err := meter.Int64Gauge(
		"price_sync_catalog_variants",
		metric.WithDescription("Number of catalog variants seen by the last full run"),
		metric.WithUnit("{variant}"),
	)
	if err != nil {
		return nil, err
	}

	return &CatalogMetrics{
		variantsTotal: variantsTotal,
	}, nil
}

// RecordVariants records the number of variants read, split by whether they had a SKU
func (m *CatalogMetrics) RecordVariants(ctx context.Context, withSKU, withoutSKU int64) {
	if m == nil || m.variantsTotal == nil {
		return
	}

	m.variantsTotal.Record(ctx, withSKU, metric.WithAttributes(attribute.Bool("has_sku", true)))
	m.variantsTotal.Record(ctx, withoutSKU, metric.WithAttributes(attribute.Bool("has_sku", false)))
}

// RunMetrics holds the OpenTelemetry instruments for synchronization runs
type RunMetrics struct {
	runDuration metric.Float64Histogram
	itemsTotal  metric.Int64Counter
}

// NewRunMetrics creates a new RunMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewRunMetrics(provider metric.MeterProvider) (*RunMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RunMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"price_sync_run_duration_seconds",
		metric.WithDescription("Duration of price synchronization runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900),
	)
	if err != nil {
		return nil, err
	}

	itemsTotal, err := meter.Int64Counter(
		"price_sync_items_total",
		metric.WithDescription("Catalog items processed, by outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runDuration: runDuration,
		itemsTotal:  itemsTotal,
	}, nil
}

// RecordRunDuration records the duration of a run
func (m *RunMetrics) RecordRunDuration(ctx context.Context, kind string, duration time.Duration, success bool) {
	if m == nil || m.runDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}

	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordItems adds count items with the given outcome
func (m *RunMetrics) RecordItems(ctx context.Context, outcome string, count int64) {
	if m == nil || m.itemsTotal == nil || count == 0 {
		return
	}

	m.itemsTotal.Add(ctx, count, metric.WithAttributes(attribute.String("outcome", outcome)))
}

package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// NewTracerProvider and NewMeterProvider install globals when they build an
// SDK provider, so the SDK cases below are not run in parallel.

func TestNewTracerProvider_Noop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []ProviderOption
	}{
		{name: "no options"},
		{name: "tracing disabled", opts: []ProviderOption{WithTracing(&TracingConfig{})}},
		{name: "nil tracing", opts: []ProviderOption{WithTracing(nil), WithProviderLogger(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tp, err := NewTracerProvider(context.Background(), tt.opts...)
			require.NoError(t, err)
			assert.IsType(t, tracenoop.TracerProvider{}, tp)
		})
	}
}

//nolint:paralleltest // sets the global tracer provider
func TestNewTracerProvider_SDK(t *testing.T) {
	ctx := context.Background()
	tp, err := NewTracerProvider(ctx,
		WithService("price-sync-test", "v0.0.1"),
		WithEndpoint("127.0.0.1:4318", true),
		WithTracing(&TracingConfig{Enabled: true, Sampling: ptr(1.0)}),
		WithProviderLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	sdk, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)

	// Exporting happens on Shutdown; nothing listens on the endpoint
	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = sdk.Shutdown(shutdownCtx)
}

func TestNewMeterProvider_Noop(t *testing.T) {
	t.Parallel()

	for _, mc := range []*MetricsConfig{nil, {}} {
		mp, err := NewMeterProvider(context.Background(), WithMetrics(mc))
		require.NoError(t, err)
		assert.IsType(t, metricnoop.MeterProvider{}, mp)
	}
}

func TestNewMeterProvider_PrometheusRequiresRegisterer(t *testing.T) {
	t.Parallel()

	_, err := NewMeterProvider(context.Background(), WithMetrics(&MetricsConfig{Prometheus: true}))
	require.ErrorIs(t, err, errNoRegisterer)
}

//nolint:paralleltest // sets the global meter provider
func TestNewMeterProvider_Prometheus(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()

	mp, err := NewMeterProvider(ctx,
		WithMetrics(&MetricsConfig{Prometheus: true}),
		WithPrometheusRegisterer(registry),
	)
	require.NoError(t, err)
	sdk, ok := mp.(*sdkmetric.MeterProvider)
	require.True(t, ok)
	t.Cleanup(func() { _ = sdk.Shutdown(ctx) })

	metrics, err := NewRunMetrics(mp)
	require.NoError(t, err)
	metrics.RecordItems(ctx, "updated", 4)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["price_sync_items_total"], "gathered families: %v", names)
}

//nolint:paralleltest // sets the global meter provider
func TestNewMeterProvider_OTLP(t *testing.T) {
	ctx := context.Background()
	mp, err := NewMeterProvider(ctx,
		WithMetrics(&MetricsConfig{Enabled: true}),
		WithEndpoint("127.0.0.1:4318", true),
	)
	require.NoError(t, err)
	sdk, ok := mp.(*sdkmetric.MeterProvider)
	require.True(t, ok)

	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = sdk.Shutdown(shutdownCtx)
}

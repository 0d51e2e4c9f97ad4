package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Telemetry owns the process tracer and meter providers
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registry       *prometheus.Registry
	logger         *zap.Logger
}

// Option configures New
type Option func(*options)

type options struct {
	config *Config
	logger *zap.Logger
}

// WithTelemetryConfig sets the telemetry configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger sets the logger for provider lifecycle messages
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds the providers described by the configuration. A nil or
// disabled config yields no-op providers. Call Shutdown to flush exporters.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	cfg := o.config
	if cfg == nil || !cfg.Enabled {
		o.logger.Debug("Telemetry disabled")
		return &Telemetry{
			tracerProvider: tracenoop.NewTracerProvider(),
			meterProvider:  metricnoop.NewMeterProvider(),
			logger:         o.logger,
		}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	providerOpts := []ProviderOption{
		WithService(cfg.serviceName(), cfg.serviceVersion()),
		WithEndpoint(cfg.endpoint(), cfg.Insecure),
		WithTracing(cfg.Tracing),
		WithMetrics(cfg.Metrics),
		WithProviderLogger(o.logger),
	}

	var registry *prometheus.Registry
	if cfg.PrometheusEnabled() {
		registry = prometheus.NewRegistry()
		providerOpts = append(providerOpts, WithPrometheusRegisterer(registry))
	}

	tp, err := NewTracerProvider(ctx, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}
	mp, err := NewMeterProvider(ctx, providerOpts...)
	if err != nil {
		if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
			_ = sdk.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	o.logger.Info("Telemetry initialized",
		zap.String("service_name", cfg.serviceName()),
		zap.String("service_version", cfg.serviceVersion()),
		zap.Bool("prometheus", registry != nil))

	return &Telemetry{
		tracerProvider: tp,
		meterProvider:  mp,
		registry:       registry,
		logger:         o.logger,
	}, nil
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Tracer returns a named tracer
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// MetricsHandler returns the Prometheus scrape handler, or nil when
// Prometheus exposition is off.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops SDK providers; no-op providers are skipped
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if len(errs) == 0 {
		t.logger.Debug("Telemetry shutdown complete")
	}
	return errors.Join(errs...)
}

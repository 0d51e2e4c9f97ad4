package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultMetricsInterval is the OTLP metric push period
const DefaultMetricsInterval = 60 * time.Second

var errNoRegisterer = errors.New("prometheus metrics enabled without a registerer")

// ProviderOption configures NewTracerProvider and NewMeterProvider
type ProviderOption func(*providerConfig)

type providerConfig struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool
	tracing        *TracingConfig
	metrics        *MetricsConfig
	registerer     prometheus.Registerer
	logger         *zap.Logger
}

func newProviderConfig(opts []ProviderOption) *providerConfig {
	cfg := &providerConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: unknownVersion,
		endpoint:       DefaultEndpoint,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithService sets the service name and version recorded on the resource
func WithService(name, version string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.serviceName = name
		cfg.serviceVersion = version
	}
}

// WithEndpoint sets the OTLP collector endpoint
func WithEndpoint(endpoint string, insecure bool) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.endpoint = endpoint
		cfg.insecure = insecure
	}
}

// WithTracing enables span export per tc
func WithTracing(tc *TracingConfig) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.tracing = tc
	}
}

// WithMetrics selects metric exporters per mc
func WithMetrics(mc *MetricsConfig) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.metrics = mc
	}
}

// WithPrometheusRegisterer is required when mc.Prometheus is set
func WithPrometheusRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.registerer = reg
	}
}

// WithProviderLogger sets the logger used while building providers
func WithProviderLogger(logger *zap.Logger) ProviderOption {
	return func(cfg *providerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// resource.New rather than resource.Default avoids schema URL conflicts
func (cfg *providerConfig) resource(ctx context.Context) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewTracerProvider returns an SDK tracer provider exporting over OTLP/HTTP,
// or a no-op provider when tracing is not enabled. An SDK provider is also
// installed globally together with the W3C trace context propagator.
func NewTracerProvider(ctx context.Context, opts ...ProviderOption) (trace.TracerProvider, error) {
	cfg := newProviderConfig(opts)
	if cfg.tracing == nil || !cfg.tracing.Enabled {
		return tracenoop.NewTracerProvider(), nil
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	ratio := cfg.tracing.SamplingRatio()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg.logger.Info("Tracing initialized",
		zap.String("endpoint", cfg.endpoint),
		zap.Float64("sampling_ratio", ratio),
		zap.Bool("insecure", cfg.insecure))
	return tp, nil
}

// NewMeterProvider returns an SDK meter provider with one reader per
// configured exporter, or a no-op provider when none is configured.
func NewMeterProvider(ctx context.Context, opts ...ProviderOption) (metric.MeterProvider, error) {
	cfg := newProviderConfig(opts)
	if !cfg.metrics.Active() {
		return metricnoop.NewMeterProvider(), nil
	}
	if cfg.metrics.Prometheus && cfg.registerer == nil {
		return nil, errNoRegisterer
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}
	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.metrics.Enabled {
		exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.endpoint)}
		if cfg.insecure {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval)),
		))
		cfg.logger.Info("OTLP metrics exporter configured", zap.String("endpoint", cfg.endpoint))
	}

	if cfg.metrics.Prometheus {
		exporter, err := otelprom.New(otelprom.WithRegisterer(cfg.registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus metrics exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(exporter))
		cfg.logger.Info("Prometheus metrics exporter configured")
	}

	mp := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}

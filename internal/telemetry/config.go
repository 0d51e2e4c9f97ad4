// Package telemetry wires OpenTelemetry tracing and metrics for the price
// sync server. Spans and metrics can be pushed to an OTLP/HTTP collector;
// metrics can also be scraped from /metrics through a Prometheus registry.
// Everything falls back to no-op providers when disabled.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName identifies the process in exported resources
	DefaultServiceName = "price-sync-server"

	// DefaultEndpoint is the OTLP/HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when none is configured
	DefaultSampling = 0.05

	unknownVersion = "unknown"
)

// Config is the telemetry section of the server configuration
type Config struct {
	// Enabled is the master switch; when false every provider is a no-op
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is host:port of the collector; /v1/traces and /v1/metrics are appended by the exporters
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is a ratio in (0, 1]; nil means DefaultSampling
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig selects the metric exporters. Enabled pushes over OTLP,
// Prometheus exposes a scrape registry; either can be on without the other.
type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	Prometheus bool `yaml:"prometheus,omitempty"`
}

// Active reports whether any metrics exporter is configured
func (c *MetricsConfig) Active() bool {
	return c != nil && (c.Enabled || c.Prometheus)
}

// PrometheusEnabled reports whether /metrics should be served
func (c *Config) PrometheusEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Prometheus
}

func (c *Config) serviceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

func (c *Config) serviceVersion() string {
	if c.ServiceVersion == "" {
		return unknownVersion
	}
	return c.ServiceVersion
}

func (c *Config) endpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// SamplingRatio returns the configured ratio or DefaultSampling
func (c *TracingConfig) SamplingRatio() float64 {
	if c == nil || c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// Validate checks the configuration. A nil or disabled config is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled && c.Tracing.Sampling != nil {
		if s := *c.Tracing.Sampling; s <= 0 || s > 1 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be greater than 0.0 and at most 1.0, got %f", s))
		}
	}
	return errors.Join(errs...)
}

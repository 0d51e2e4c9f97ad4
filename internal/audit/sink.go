// Package audit records one RunSummary per synchronization run.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/status"
)

// Sink receives the summary of every finished run
//
//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=sink.go Sink
type Sink interface {
	Emit(ctx context.Context, summary *status.RunSummary) error
}

// LoggerSink writes each summary as one structured log record
type LoggerSink struct {
	logger *zap.Logger
	// OmitResults drops the per-item results from the record, leaving the
	// counters only
	OmitResults bool
}

// NewLoggerSink creates a LoggerSink
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Emit implements Sink
func (s *LoggerSink) Emit(_ context.Context, summary *status.RunSummary) error {
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.String("kind", string(summary.Kind)),
		zap.String("trigger", string(summary.Trigger)),
		zap.Time("started_at", summary.StartedAt),
		zap.Time("finished_at", summary.FinishedAt),
		zap.Duration("duration", summary.Duration),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("missing_sku", summary.MissingSKU),
		zap.String("phase", string(summary.Phase)),
	}
	if summary.SKU != "" {
		fields = append(fields, zap.String("sku", summary.SKU))
	}
	if !s.OmitResults {
		fields = append(fields, zap.Any("results", summary.Results))
	}

	if !summary.Succeeded() {
		fields = append(fields, zap.String("error", summary.Error))
		s.logger.Error("Price sync run failed", fields...)
		return nil
	}
	s.logger.Info("Price sync run completed", fields...)
	return nil
}

// MultiSink fans a summary out to several sinks. Every sink is tried even
// when an earlier one fails.
type MultiSink []Sink

// Emit implements Sink
func (m MultiSink) Emit(ctx context.Context, summary *status.RunSummary) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

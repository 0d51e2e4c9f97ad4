// Package otel holds tracing helpers shared by the sync pipeline.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
const (
	AttrRunID       = attribute.Key("run.id")
	AttrRunKind     = attribute.Key("run.kind")
	AttrRunTrigger  = attribute.Key("run.trigger")
	AttrProductID   = attribute.Key("catalog.product_id")
	AttrSKU         = attribute.Key("catalog.sku")
	AttrPageSize    = attribute.Key("pagination.limit")
	AttrHasCursor   = attribute.Key("pagination.has_cursor")
	AttrBatchSize   = attribute.Key("batch.size")
	AttrResultCount = attribute.Key("result.count")
	AttrBackoff     = attribute.Key("retry.backoff_ms")
)

// retryEvent names the span event added for each failed attempt
const retryEvent = "retry"

// StartSpan starts a span on tracer. With a nil tracer it returns ctx and
// the span already in ctx, which is a no-op span when there is none.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span failed. The status description stays generic so
// tokens and URLs inside err only reach the exception event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")
}

// RecordRetry adds a retry event to span for an attempt that failed with
// err and will be retried after next
func RecordRetry(span trace.Span, err error, next time.Duration) {
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{AttrBackoff.Int64(next.Milliseconds())}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	span.AddEvent(retryEvent, trace.WithAttributes(attrs...))
}

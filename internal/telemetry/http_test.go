package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestRouter mounts the trigger-shaped routes behind mw
func newTestRouter(mw func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw)
	r.Post("/update-sku/{sku}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Post("/webhook", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.Get("/fail", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestRoutePattern_Unrouted(t *testing.T) {
	t.Parallel()
	assert.Equal(t, unmatchedRoute, routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)
	router := newTestRouter(mw)

	for _, sku := range []string{"A-1", "B-2", "C-3"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/update-sku/"+sku, nil))
		require.Equal(t, http.StatusAccepted, rr.Code)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	data := collect(t, reader, HTTPMetricsMeterName)

	sum, ok := data["price_sync_http_requests_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		code, _ := dp.Attributes.Value(attribute.Key("status_code"))
		counts[route.AsString()+" "+code.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		"/update-sku/{sku} 202": 3,
		"/webhook 409":          1,
	}, counts, "SKUs must not appear as label values")

	active, ok := data["price_sync_http_active_requests"].(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}

	_, ok = data["price_sync_http_request_duration_seconds"].(metricdata.Histogram[float64])
	assert.True(t, ok)
}

func TestMetricsMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	mw, err := MetricsMiddleware(nil)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	router := newTestRouter(TracingMiddleware(tp))

	tests := []struct {
		method     string
		path       string
		wantName   string
		wantStatus codes.Code
	}{
		{http.MethodPost, "/update-sku/ZPB-LTM814", "POST /update-sku/{sku}", codes.Ok},
		{http.MethodPost, "/webhook", "POST /webhook", codes.Error},
		{http.MethodGet, "/fail", "GET /fail", codes.Error},
	}
	for _, tt := range tests {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, len(tests))
	for i, tt := range tests {
		span := spans[i]
		assert.Equal(t, tt.wantName, span.Name())
		assert.Equal(t, trace.SpanKindServer, span.SpanKind())
		assert.Equal(t, tt.wantStatus, span.Status().Code, tt.path)
	}
}

func TestTracingMiddleware_OutsideRouter(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var seen trace.SpanContext
	handler := TracingMiddleware(tp)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = trace.SpanContextFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhook", nil))

	require.True(t, seen.IsValid(), "handler context carries the server span")
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST "+unmatchedRoute, spans[0].Name())
	assert.Equal(t, seen.SpanID(), spans[0].SpanContext().SpanID())
}

func TestTracingMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	called := false
	handler := TracingMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

// Package api provides the HTTP trigger API of the price sync server.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/logging"
	"github.com/stacklok/price-sync-server/internal/status"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
)

const (
	// DefaultLogsLimit is the number of records /logs returns without a limit parameter
	DefaultLogsLimit = 100

	// MaxLogsLimit caps the limit parameter of /logs
	MaxLogsLimit = 1000
)

// Trigger accepts run requests without waiting for them to finish
type Trigger interface {
	TryEnqueue(req pkgsync.Request) (pkgsync.Request, error)
	Active() bool
}

// RunLog reads recent run summaries
type RunLog interface {
	Recent(ctx context.Context, limit int) ([]status.RunSummary, int, error)
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	logger         *zap.Logger
	formulaFile    string
	now            func() time.Time
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler mounts h on /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithLogger sets the logger used by handlers
func WithLogger(l *zap.Logger) ServerOption {
	return func(cfg *serverConfig) {
		cfg.logger = l
	}
}

// WithFormulaFile makes /health report whether path exists
func WithFormulaFile(path string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.formulaFile = path
	}
}

// NewServer creates and configures the HTTP router. runLog may be nil, in
// which case /logs responds 404.
func NewServer(trigger Trigger, runLog RunLog, opts ...ServerOption) *chi.Mux {
	// Initialize configuration with defaults
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
		logger:      zap.NewNop(),
		now:         time.Now,
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	// Apply middleware
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	routes := &Routes{
		trigger: trigger,
		runLog:  runLog,
		cfg:     cfg,
	}

	r.Post("/webhook", routes.webhook)
	r.Post("/update-sku/{sku}", routes.updateSKU)
	r.Get("/health", routes.health)
	r.Get("/version", versionHandler)
	r.Get("/logs", routes.logs)

	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logging.WithTrace(r.Context(), logger).Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/api"
	"github.com/stacklok/price-sync-server/internal/auth"
	"github.com/stacklok/price-sync-server/internal/status"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
	"github.com/stacklok/price-sync-server/internal/sync/coordinator"
	"github.com/stacklok/price-sync-server/internal/telemetry"
)

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	serverRequestTimeout   = 10 * time.Second // Trigger endpoints return before the run finishes
	serverReadTimeout      = 10 * time.Second // Enough for headers and small requests
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second // Keep connections alive for reuse
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the price sync trigger server",
		Long: `Start the HTTP trigger server. A full run is started at startup; further runs
are triggered with POST /webhook (full catalog) and POST /update-sku/{sku}.
Only one run executes at a time; triggers received during a run get 409.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on (default :8080, or :$PORT)")
	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		zap.L().Error("Failed to bind address flag", zap.Error(err))
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if address := viper.GetString("address"); address != "" {
		cfg.Server.Address = address
	}

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := comps.close(shutdownCtx); err != nil {
			logger.Error("Failed to shut down telemetry", zap.Error(err))
		}
	}()

	logger.Info("Loaded configuration",
		zap.Any("config", cfg.Redacted()),
		zap.String("formula", comps.pricer.Describe()),
		zap.Bool("low_price_tier", comps.pricer.Tiered()),
	)

	syncCoordinator := coordinator.New(comps.manager, coordinator.WithLogger(logger.Named("coordinator")))

	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go func() {
		if err := syncCoordinator.Start(syncCtx); err != nil {
			logger.Error("Sync coordinator failed", zap.Error(err))
		}
	}()

	if cfg.Server.StartupRunEnabled() {
		if _, err := syncCoordinator.TryEnqueue(pkgsync.NewFullRequest(status.TriggerStartup)); err != nil {
			logger.Warn("Startup run not accepted", zap.Error(err))
		}
	}

	router, err := newRouter(syncCoordinator, comps)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			_ = syncCoordinator.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	// Stop accepting triggers first, then cancel and wait for the in-flight run
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		_ = syncCoordinator.Stop()
		return err
	}
	if err := syncCoordinator.Stop(); err != nil {
		logger.Error("Failed to stop sync coordinator", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
	return nil
}

// newRouter builds the trigger API with the standard middleware chain
func newRouter(trigger api.Trigger, comps *components) (http.Handler, error) {
	metricsMiddleware, err := telemetry.MetricsMiddleware(comps.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics middleware: %w", err)
	}

	return api.NewServer(trigger, comps.runLog(),
		api.WithLogger(comps.logger.Named("api")),
		api.WithFormulaFile(comps.cfg.Formula.File),
		api.WithMetricsHandler(comps.telemetry.MetricsHandler()),
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			telemetry.TracingMiddleware(comps.telemetry.TracerProvider()),
			metricsMiddleware,
			api.LoggingMiddleware(comps.logger.Named("http")),
			auth.NewAuthMiddleware(&comps.cfg.Auth, comps.logger.Named("auth")),
		),
	), nil
}

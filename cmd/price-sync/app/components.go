package app

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/api"
	"github.com/stacklok/price-sync-server/internal/audit"
	"github.com/stacklok/price-sync-server/internal/catalog"
	"github.com/stacklok/price-sync-server/internal/config"
	"github.com/stacklok/price-sync-server/internal/feed"
	"github.com/stacklok/price-sync-server/internal/formula"
	"github.com/stacklok/price-sync-server/internal/httpclient"
	"github.com/stacklok/price-sync-server/internal/logging"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
	"github.com/stacklok/price-sync-server/internal/telemetry"
	"github.com/stacklok/price-sync-server/internal/versions"
)

const tracerName = "github.com/stacklok/price-sync-server"

// components are the collaborators shared by serve and run
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	pricer    *formula.Pricer
	fileSink  *audit.FileSink
	sink      audit.Sink
	manager   pkgsync.Manager
}

// loadConfig loads the configuration named by the --config and --env-file flags
// and rebuilds the global logger from it.
func loadConfig() (*config.Config, *zap.Logger, error) {
	opts := []config.Option{config.WithEnvFiles(viper.GetString("env-file"))}
	if path := viper.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	return cfg, logger, nil
}

// loadPricer loads and validates the pricing formulas
func loadPricer(cfg *config.Config) (*formula.Pricer, error) {
	threshold, err := cfg.Formula.Threshold()
	if err != nil {
		return nil, err
	}
	pricer, err := formula.LoadPricer(cfg.Formula.File, cfg.Formula.LowPriceFile, threshold)
	if err != nil {
		return nil, &pkgsync.FormulaValidationError{Err: err}
	}
	if err := pricer.Validate(); err != nil {
		return nil, &pkgsync.FormulaValidationError{Err: err}
	}
	return pricer, nil
}

// buildComponents wires the catalog, feed, formula, audit and telemetry
// layers into a sync manager. The caller must call close.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	pricer, err := loadPricer(cfg)
	if err != nil {
		return nil, err
	}

	telCfg := cfg.Telemetry
	if telCfg != nil && telCfg.ServiceVersion == "" {
		withVersion := *telCfg
		withVersion.ServiceVersion = versions.GetVersionInfo().Version
		telCfg = &withVersion
	}
	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(telCfg),
		telemetry.WithLogger(logger.Named("telemetry")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tracer := tel.Tracer(tracerName)

	reader, writer := newCatalog(cfg, logger, tracer)

	fetcher := feed.NewFetcher(cfg.FeedConfig(), httpclient.NewDefaultClient(cfg.Feed.Timeout),
		feed.WithLogger(logger.Named("feed")),
		feed.WithTracer(tracer),
	)

	sinks := audit.MultiSink{audit.NewLoggerSink(logger.Named("audit"))}
	var fileSink *audit.FileSink
	if !cfg.Audit.Disabled && cfg.Audit.File != "" {
		fileSink, err = audit.NewFileSink(cfg.Audit.File)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		sinks = append(sinks, fileSink)
	}

	runMetrics, err := telemetry.NewRunMetrics(tel.MeterProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create run metrics: %w", err)
	}
	catalogMetrics, err := telemetry.NewCatalogMetrics(tel.MeterProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create catalog metrics: %w", err)
	}

	manager := pkgsync.NewManager(reader, fetcher, writer, pricer,
		pkgsync.WithLogger(logger.Named("sync")),
		pkgsync.WithSink(sinks),
		pkgsync.WithTracer(tracer),
		pkgsync.WithMetrics(runMetrics, catalogMetrics),
	)

	return &components{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		pricer:    pricer,
		fileSink:  fileSink,
		sink:      sinks,
		manager:   manager,
	}, nil
}

func newCatalog(cfg *config.Config, logger *zap.Logger, tracer trace.Tracer) (*catalog.Reader, *catalog.Writer) {
	client := catalog.NewClient(
		catalog.GraphQLEndpoint(cfg.Shopify.Store, cfg.Shopify.APIVersion),
		cfg.Shopify.AccessToken,
		httpclient.NewDefaultClient(cfg.Catalog.Timeout),
		catalog.WithRetryPolicy(cfg.Retry),
		catalog.WithLogger(logger.Named("catalog")),
	)

	reader := catalog.NewReader(client,
		catalog.WithPageSize(cfg.Catalog.PageSize),
		catalog.WithReaderLogger(logger.Named("catalog")),
		catalog.WithReaderTracer(tracer),
	)
	writer := catalog.NewWriter(client,
		catalog.WithWriteBatchSize(cfg.Catalog.WriteBatchSize),
		catalog.WithWriteWorkers(cfg.Catalog.WriteWorkers),
		catalog.WithWriterLogger(logger.Named("catalog")),
		catalog.WithWriterTracer(tracer),
	)
	return reader, writer
}

// runLog returns the file sink as an api.RunLog, or a nil interface when
// the file sink is off
func (c *components) runLog() api.RunLog {
	if c.fileSink == nil {
		return nil
	}
	return c.fileSink
}

func (c *components) close(ctx context.Context) error {
	if err := c.telemetry.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

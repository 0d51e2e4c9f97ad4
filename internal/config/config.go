// Package config loads the price sync server configuration from environment
// variables, an optional .env file and an optional YAML tunables file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/price-sync-server/internal/audit"
	"github.com/stacklok/price-sync-server/internal/catalog"
	"github.com/stacklok/price-sync-server/internal/feed"
	"github.com/stacklok/price-sync-server/internal/formula"
	"github.com/stacklok/price-sync-server/internal/retry"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
	"github.com/stacklok/price-sync-server/internal/telemetry"
)

// Environment variables read by LoadConfig
const (
	EnvShopifyStore       = "SHOPIFY_STORE"
	EnvShopifyAPIVersion  = "SHOPIFY_API_VERSION"
	EnvShopifyAccessToken = "SHOPIFY_ACCESS_TOKEN"
	EnvExternalAPIURL     = "EXTERNAL_API_URL"
	EnvExternalAPIToken   = "EXTERNAL_API_TOKEN"
	EnvFormulaFile        = "FORMULA_FILE"
	EnvLowPriceFormula    = "UNDER5_FORMULA_FILE"
	EnvAuditFile          = "AUDIT_FILE"
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvPort               = "PORT"
	EnvAPIToken           = "API_TOKEN"
	EnvWebhookSecret      = "SHOPIFY_WEBHOOK_SECRET"
)

const (
	// DefaultShopifyAPIVersion is the Admin API version used when none is set
	DefaultShopifyAPIVersion = "2024-10"
	// DefaultFormulaFile holds the base pricing formula
	DefaultFormulaFile = "formula.txt"
	// DefaultLowPriceFormulaFile holds the optional low-price tier formula
	DefaultLowPriceFormulaFile = "under5.txt"
	// DefaultAddress is the HTTP listen address
	DefaultAddress = ":8080"
	// DefaultLogLevel is the log level used when none is set
	DefaultLogLevel = "info"
	// DefaultLogFormat is the log encoding used when none is set
	DefaultLogFormat = "json"
)

// requiredKeys are reported together when missing
var requiredKeys = []string{
	EnvShopifyStore,
	EnvShopifyAPIVersion,
	EnvShopifyAccessToken,
	EnvExternalAPIURL,
	EnvExternalAPIToken,
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path     string
	envFiles []string
}

// WithConfigPath loads tunables from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnvFiles reads dotenv files. Missing files are ignored and variables
// already present in the process environment win.
func WithEnvFiles(paths ...string) Option {
	return func(cfg *loaderConfig) error {
		cfg.envFiles = append(cfg.envFiles, paths...)
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Shopify   ShopifyConfig     `yaml:"-"`
	Feed      FeedConfig        `yaml:"feed,omitempty"`
	Catalog   CatalogConfig     `yaml:"catalog,omitempty"`
	Formula   FormulaConfig     `yaml:"formula,omitempty"`
	Retry     retry.Policy      `yaml:"retry,omitempty"`
	Audit     AuditConfig       `yaml:"audit,omitempty"`
	Server    ServerConfig      `yaml:"server,omitempty"`
	Logging   LoggingConfig     `yaml:"logging,omitempty"`
	Auth      AuthConfig        `yaml:"auth,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ShopifyConfig holds the Admin API credentials. Environment only.
type ShopifyConfig struct {
	Store       string
	APIVersion  string
	AccessToken string
}

// FeedConfig configures the external pricing feed
type FeedConfig struct {
	// URL and Token come from the environment only
	URL        string        `yaml:"-"`
	Token      string        `yaml:"-"`
	BatchSize  int           `yaml:"batchSize,omitempty"`
	Workers    int           `yaml:"workers,omitempty"`
	PriceField string        `yaml:"priceField,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
}

// CatalogConfig configures catalog reads and writes
type CatalogConfig struct {
	PageSize       int           `yaml:"pageSize,omitempty"`
	WriteBatchSize int           `yaml:"writeBatchSize,omitempty"`
	WriteWorkers   int           `yaml:"writeWorkers,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
}

// FormulaConfig names the formula files and the low-price tier boundary
type FormulaConfig struct {
	File         string `yaml:"file,omitempty"`
	LowPriceFile string `yaml:"lowPriceFile,omitempty"`
	// TierThreshold is a decimal string; reference prices strictly below it
	// use the low-price formula
	TierThreshold string `yaml:"tierThreshold,omitempty"`
}

// AuditConfig configures the run audit log
type AuditConfig struct {
	// File is the JSON Lines file backing GET /logs. Defaults to
	// audit.DefaultFileName in the working directory.
	File string `yaml:"file,omitempty"`
	// Disabled turns the audit file and GET /logs off
	Disabled bool `yaml:"disabled,omitempty"`
}

// ServerConfig configures the HTTP trigger server
type ServerConfig struct {
	Address string `yaml:"address,omitempty"`
	// StartupRun enqueues a full run when the server starts. Defaults to true.
	StartupRun *bool `yaml:"startupRun,omitempty"`
}

// AuthConfig configures trigger authentication. Secrets come from the
// environment only; with neither set the API is open.
type AuthConfig struct {
	Token         string   `yaml:"-"`
	WebhookSecret string   `yaml:"-"`
	Realm         string   `yaml:"realm,omitempty"`
	PublicPaths   []string `yaml:"publicPaths,omitempty"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// LoadConfig reads the YAML tunables (if any), applies environment
// overrides and validates the result.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := Config{}
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	v, err := newEnvironment(loaderCfg.envFiles)
	if err != nil {
		return nil, err
	}
	config.applyEnvironment(v)
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// newEnvironment returns a viper instance reading the process environment,
// with dotenv values as the fallback layer
func newEnvironment(envFiles []string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(EnvShopifyAPIVersion, DefaultShopifyAPIVersion)

	// earlier files win, matching godotenv.Load
	merged := map[string]string{}
	for _, path := range envFiles {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
		}
		for key, value := range values {
			if _, ok := merged[key]; !ok {
				merged[key] = value
			}
		}
	}
	for key, value := range merged {
		v.SetDefault(key, value)
	}
	return v, nil
}

func (c *Config) applyEnvironment(v *viper.Viper) {
	get := func(key string) string {
		return strings.TrimSpace(v.GetString(key))
	}

	c.Shopify = ShopifyConfig{
		Store:       get(EnvShopifyStore),
		APIVersion:  get(EnvShopifyAPIVersion),
		AccessToken: get(EnvShopifyAccessToken),
	}
	c.Feed.URL = get(EnvExternalAPIURL)
	c.Feed.Token = get(EnvExternalAPIToken)
	c.Auth.Token = get(EnvAPIToken)
	c.Auth.WebhookSecret = get(EnvWebhookSecret)

	overrides := map[string]*string{
		EnvFormulaFile:     &c.Formula.File,
		EnvLowPriceFormula: &c.Formula.LowPriceFile,
		EnvAuditFile:       &c.Audit.File,
		EnvLogLevel:        &c.Logging.Level,
		EnvLogFormat:       &c.Logging.Format,
	}
	for key, field := range overrides {
		if value := get(key); value != "" {
			*field = value
		}
	}
	if port := get(EnvPort); port != "" && c.Server.Address == "" {
		c.Server.Address = ":" + port
	}
}

func (c *Config) applyDefaults() {
	if c.Formula.File == "" {
		c.Formula.File = DefaultFormulaFile
	}
	if c.Formula.LowPriceFile == "" {
		c.Formula.LowPriceFile = DefaultLowPriceFormulaFile
	}
	if c.Formula.TierThreshold == "" {
		c.Formula.TierThreshold = formula.DefaultTierThreshold.String()
	}
	if c.Feed.BatchSize == 0 {
		c.Feed.BatchSize = feed.DefaultBatchSize
	}
	if c.Feed.Workers == 0 {
		c.Feed.Workers = feed.DefaultWorkers
	}
	if c.Feed.PriceField == "" {
		c.Feed.PriceField = feed.DefaultPriceField
	}
	if c.Catalog.PageSize == 0 {
		c.Catalog.PageSize = catalog.DefaultPageSize
	}
	if c.Catalog.WriteBatchSize == 0 {
		c.Catalog.WriteBatchSize = catalog.DefaultWriteBatchSize
	}
	if c.Catalog.WriteWorkers == 0 {
		c.Catalog.WriteWorkers = catalog.DefaultWriteWorkers
	}
	if c.Retry == (retry.Policy{}) {
		c.Retry = retry.DefaultPolicy()
	}
	if c.Audit.File == "" && !c.Audit.Disabled {
		c.Audit.File = audit.DefaultFileName
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate reports every configuration problem at once. Missing required
// keys are reported as a single *sync.ConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if missing := c.missingKeys(); len(missing) > 0 {
		errs = append(errs, &pkgsync.ConfigurationError{Missing: missing})
	}

	if _, err := c.Formula.Threshold(); err != nil {
		errs = append(errs, err)
	}

	positive := map[string]int{
		"feed.batchSize":         c.Feed.BatchSize,
		"feed.workers":           c.Feed.Workers,
		"catalog.pageSize":       c.Catalog.PageSize,
		"catalog.writeBatchSize": c.Catalog.WriteBatchSize,
		"catalog.writeWorkers":   c.Catalog.WriteWorkers,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, positive[name]))
		}
	}
	if c.Catalog.PageSize > catalog.MaxPageSize {
		errs = append(errs, fmt.Errorf("catalog.pageSize must be at most %d, got %d",
			catalog.MaxPageSize, c.Catalog.PageSize))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q, must be json or console", c.Logging.Format))
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) missingKeys() []string {
	values := map[string]string{
		EnvShopifyStore:       c.Shopify.Store,
		EnvShopifyAPIVersion:  c.Shopify.APIVersion,
		EnvShopifyAccessToken: c.Shopify.AccessToken,
		EnvExternalAPIURL:     c.Feed.URL,
		EnvExternalAPIToken:   c.Feed.Token,
	}
	var missing []string
	for _, key := range requiredKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Threshold parses the tier threshold
func (f FormulaConfig) Threshold() (decimal.Decimal, error) {
	if f.TierThreshold == "" {
		return formula.DefaultTierThreshold, nil
	}
	d, err := decimal.NewFromString(f.TierThreshold)
	if err != nil {
		return decimal.Zero, fmt.Errorf("formula.tierThreshold %q is not a decimal: %w", f.TierThreshold, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("formula.tierThreshold must be positive, got %s", f.TierThreshold)
	}
	return d, nil
}

// StartupRunEnabled reports whether serve enqueues a run at startup
func (s ServerConfig) StartupRunEnabled() bool {
	return s.StartupRun == nil || *s.StartupRun
}

// FeedConfig converts the feed section to the fetcher configuration
func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		URL:        c.Feed.URL,
		Token:      c.Feed.Token,
		BatchSize:  c.Feed.BatchSize,
		Workers:    c.Feed.Workers,
		PriceField: c.Feed.PriceField,
		Retry:      c.Retry,
	}
}

// Redacted returns a copy safe to log
func (c *Config) Redacted() Config {
	out := *c
	if out.Shopify.AccessToken != "" {
		out.Shopify.AccessToken = redacted
	}
	if out.Feed.Token != "" {
		out.Feed.Token = redacted
	}
	if out.Auth.Token != "" {
		out.Auth.Token = redacted
	}
	if out.Auth.WebhookSecret != "" {
		out.Auth.WebhookSecret = redacted
	}
	return out
}

const redacted = "REDACTED"

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

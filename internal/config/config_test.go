package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/price-sync-server/internal/audit"
	"github.com/stacklok/price-sync-server/internal/catalog"
	"github.com/stacklok/price-sync-server/internal/feed"
	"github.com/stacklok/price-sync-server/internal/retry"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
	"github.com/stacklok/price-sync-server/internal/telemetry"
)

const completeEnv = `SHOPIFY_STORE=example-store
SHOPIFY_ACCESS_TOKEN=shpat_secret
EXTERNAL_API_URL=https://feed.example.com/prices
EXTERNAL_API_TOKEN=feed-secret
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_EnvFileWithDefaults(t *testing.T) {
	t.Parallel()

	envFile := writeFile(t, t.TempDir(), ".env", completeEnv)

	cfg, err := LoadConfig(WithEnvFiles(envFile))
	require.NoError(t, err)

	assert.Equal(t, ShopifyConfig{
		Store:       "example-store",
		APIVersion:  DefaultShopifyAPIVersion,
		AccessToken: "shpat_secret",
	}, cfg.Shopify)
	assert.Equal(t, "https://feed.example.com/prices", cfg.Feed.URL)
	assert.Equal(t, "feed-secret", cfg.Feed.Token)

	assert.Equal(t, DefaultFormulaFile, cfg.Formula.File)
	assert.Equal(t, DefaultLowPriceFormulaFile, cfg.Formula.LowPriceFile)
	assert.Equal(t, feed.DefaultBatchSize, cfg.Feed.BatchSize)
	assert.Equal(t, feed.DefaultWorkers, cfg.Feed.Workers)
	assert.Equal(t, feed.DefaultPriceField, cfg.Feed.PriceField)
	assert.Equal(t, catalog.DefaultPageSize, cfg.Catalog.PageSize)
	assert.Equal(t, catalog.DefaultWriteBatchSize, cfg.Catalog.WriteBatchSize)
	assert.Equal(t, catalog.DefaultWriteWorkers, cfg.Catalog.WriteWorkers)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Retry)
	assert.Equal(t, DefaultAddress, cfg.Server.Address)
	assert.True(t, cfg.Server.StartupRunEnabled())
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, audit.DefaultFileName, cfg.Audit.File)

	threshold, err := cfg.Formula.Threshold()
	require.NoError(t, err)
	assert.True(t, threshold.Equal(decimal.NewFromInt(5)))
}

func TestLoadConfig_MissingRequiredKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "SHOPIFY_STORE=example-store\n")

	_, err := LoadConfig(WithEnvFiles(envFile))
	require.Error(t, err)

	var cfgErr *pkgsync.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{EnvShopifyAccessToken, EnvExternalAPIURL, EnvExternalAPIToken}, cfgErr.Missing)
	assert.Contains(t, err.Error(), "missing required configuration: EXTERNAL_API_TOKEN, EXTERNAL_API_URL, SHOPIFY_ACCESS_TOKEN")
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := writeFile(t, dir, "second.env", completeEnv)

	cfg, err := LoadConfig(WithEnvFiles(filepath.Join(dir, "absent.env"), present))
	require.NoError(t, err)
	assert.Equal(t, "example-store", cfg.Shopify.Store)
}

func TestLoadConfig_FirstEnvFileWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := writeFile(t, dir, "first.env", completeEnv+"FORMULA_FILE=first.txt\nSHOPIFY_API_VERSION=2025-01\n")
	second := writeFile(t, dir, "second.env", "FORMULA_FILE=second.txt\n")

	cfg, err := LoadConfig(WithEnvFiles(first, second))
	require.NoError(t, err)
	assert.Equal(t, "first.txt", cfg.Formula.File)
	assert.Equal(t, "2025-01", cfg.Shopify.APIVersion)
}

func TestLoadConfig_YAMLTunables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", completeEnv+"API_TOKEN=trigger-token\nSHOPIFY_WEBHOOK_SECRET=hook-secret\n")
	configFile := writeFile(t, dir, "config.yaml", `feed:
  batchSize: 20
  workers: 2
  priceField: casePrice
  timeout: 45s
catalog:
  pageSize: 100
  writeBatchSize: 25
  writeWorkers: 8
formula:
  file: /etc/price-sync/formula.txt
  tierThreshold: "4.99"
retry:
  maxAttempts: 3
  initialInterval: 1s
  maxInterval: 5s
  maxElapsedTime: 30s
audit:
  file: /var/lib/price-sync/runs.jsonl
server:
  address: ":9090"
  startupRun: false
logging:
  level: debug
  format: console
auth:
  realm: pricing
  publicPaths: ["/health"]
telemetry:
  enabled: true
  insecure: true
  metrics:
    prometheus: true
`)

	cfg, err := LoadConfig(WithConfigPath(configFile), WithEnvFiles(envFile))
	require.NoError(t, err)

	assert.Equal(t, FeedConfig{
		URL:        "https://feed.example.com/prices",
		Token:      "feed-secret",
		BatchSize:  20,
		Workers:    2,
		PriceField: "casePrice",
		Timeout:    45 * time.Second,
	}, cfg.Feed)
	assert.Equal(t, CatalogConfig{PageSize: 100, WriteBatchSize: 25, WriteWorkers: 8}, cfg.Catalog)
	assert.Equal(t, "/etc/price-sync/formula.txt", cfg.Formula.File)
	assert.Equal(t, DefaultLowPriceFormulaFile, cfg.Formula.LowPriceFile)
	assert.Equal(t, retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}, cfg.Retry)
	assert.Equal(t, "/var/lib/price-sync/runs.jsonl", cfg.Audit.File)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.False(t, cfg.Server.StartupRunEnabled())
	assert.Equal(t, LoggingConfig{Level: "debug", Format: "console"}, cfg.Logging)
	assert.Equal(t, AuthConfig{
		Token:         "trigger-token",
		WebhookSecret: "hook-secret",
		Realm:         "pricing",
		PublicPaths:   []string{"/health"},
	}, cfg.Auth)
	require.NotNil(t, cfg.Telemetry)
	assert.True(t, cfg.Telemetry.Enabled)
	require.NotNil(t, cfg.Telemetry.Metrics)
	assert.True(t, cfg.Telemetry.Metrics.Prometheus)

	threshold, err := cfg.Formula.Threshold()
	require.NoError(t, err)
	assert.True(t, threshold.Equal(decimal.RequireFromString("4.99")))

	fc := cfg.FeedConfig()
	assert.Equal(t, 20, fc.BatchSize)
	assert.Equal(t, cfg.Retry, fc.Retry)
}

func TestLoadConfig_YAMLCannotSetSecrets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configFile := writeFile(t, dir, "config.yaml", "feed:\n  token: from-yaml\n  url: https://yaml.example.com\n")

	_, err := LoadConfig(WithConfigPath(configFile), WithEnvFiles(writeFile(t, dir, ".env", "")))
	var cfgErr *pkgsync.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Missing, EnvExternalAPIToken)
	assert.Contains(t, cfgErr.Missing, EnvExternalAPIURL)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	configFile := writeFile(t, t.TempDir(), "config.yaml", "feed: [unterminated")

	_, err := LoadConfig(WithConfigPath(configFile))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

//nolint:paralleltest // uses t.Setenv
func TestLoadConfig_ProcessEnvironmentWins(t *testing.T) {
	envFile := writeFile(t, t.TempDir(), ".env", completeEnv+"FORMULA_FILE=from-dotenv.txt\n")

	t.Setenv(EnvShopifyStore, "env-store")
	t.Setenv(EnvFormulaFile, "from-env.txt")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvPort, "9191")

	cfg, err := LoadConfig(WithEnvFiles(envFile))
	require.NoError(t, err)

	assert.Equal(t, "env-store", cfg.Shopify.Store)
	assert.Equal(t, "from-env.txt", cfg.Formula.File)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":9191", cfg.Server.Address)
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "configs"), 0755))
	configPath := writeFile(t, filepath.Join(tmpDir, "configs"), "app.yaml", "feed: {}")

	linkPath := filepath.Join(tmpDir, "link.yaml")
	require.NoError(t, os.Symlink(configPath, linkPath))

	tests := []struct {
		name     string
		path     string
		wantPath string
		wantErr  bool
	}{
		{name: "empty path", path: "", wantErr: true},
		{name: "missing file", path: filepath.Join(tmpDir, "absent.yaml"), wantErr: true},
		{name: "path traversal at start", path: "../etc/does-not-exist", wantErr: true},
		{name: "absolute path", path: configPath, wantPath: configPath},
		{name: "symlink is resolved", path: linkPath, wantPath: configPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &loaderConfig{}
			err := WithConfigPath(tt.path)(cfg)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			wantPath, err := filepath.EvalSymlinks(tt.wantPath)
			require.NoError(t, err)
			assert.Equal(t, wantPath, cfg.path)
		})
	}
}

func validConfig() *Config {
	cfg := &Config{
		Shopify: ShopifyConfig{Store: "s", APIVersion: "2024-10", AccessToken: "t"},
		Feed:    FeedConfig{URL: "https://feed.example.com", Token: "f"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	sampling := 1.5

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "threshold not a decimal",
			mutate:  func(c *Config) { c.Formula.TierThreshold = "five" },
			wantErr: []string{`formula.tierThreshold "five" is not a decimal`},
		},
		{
			name:    "threshold not positive",
			mutate:  func(c *Config) { c.Formula.TierThreshold = "0" },
			wantErr: []string{"formula.tierThreshold must be positive"},
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Feed.Workers = -1; c.Catalog.WriteWorkers = -2 },
			wantErr: []string{"feed.workers must not be negative", "catalog.writeWorkers must not be negative"},
		},
		{
			name:    "page size above api maximum",
			mutate:  func(c *Config) { c.Catalog.PageSize = 500 },
			wantErr: []string{"catalog.pageSize must be at most 250"},
		},
		{
			name:    "invalid log level and format",
			mutate:  func(c *Config) { c.Logging.Level = "verbose"; c.Logging.Format = "xml" },
			wantErr: []string{`invalid log level "verbose"`, `invalid log format "xml"`},
		},
		{
			name: "invalid telemetry",
			mutate: func(c *Config) {
				c.Telemetry = &telemetry.Config{
					Enabled: true,
					Tracing: &telemetry.TracingConfig{Enabled: true, Sampling: &sampling},
				}
			},
			wantErr: []string{"telemetry: "},
		},
		{
			name:    "missing secrets reported with other errors",
			mutate:  func(c *Config) { c.Shopify.AccessToken = ""; c.Logging.Level = "loud" },
			wantErr: []string{"missing required configuration: SHOPIFY_ACCESS_TOKEN", `invalid log level "loud"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestConfigValidate_Nil(t *testing.T) {
	t.Parallel()

	var cfg *Config
	require.EqualError(t, cfg.Validate(), "config cannot be nil")
}

func TestConfigRedacted(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Auth = AuthConfig{Token: "tok", WebhookSecret: "hook"}
	out := cfg.Redacted()

	assert.Equal(t, redacted, out.Auth.Token)
	assert.Equal(t, redacted, out.Auth.WebhookSecret)

	assert.Equal(t, redacted, out.Shopify.AccessToken)
	assert.Equal(t, redacted, out.Feed.Token)
	assert.Equal(t, "t", cfg.Shopify.AccessToken, "original must not change")
	assert.False(t, strings.Contains(out.Feed.URL, redacted))
}

func TestLoadConfig_AuditFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		yaml         string
		wantFile     string
		wantDisabled bool
	}{
		{name: "defaults to the working directory", yaml: "{}\n", wantFile: audit.DefaultFileName},
		{name: "explicit path", yaml: "audit:\n  file: /data/runs.jsonl\n", wantFile: "/data/runs.jsonl"},
		{name: "disabled", yaml: "audit:\n  disabled: true\n", wantDisabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			cfg, err := LoadConfig(
				WithConfigPath(writeFile(t, dir, "config.yaml", tt.yaml)),
				WithEnvFiles(writeFile(t, dir, ".env", completeEnv)),
			)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFile, cfg.Audit.File)
			assert.Equal(t, tt.wantDisabled, cfg.Audit.Disabled)
		})
	}
}

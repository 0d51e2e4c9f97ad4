// Package main is the entry point for the price sync server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/cmd/price-sync/app"
	"github.com/stacklok/price-sync-server/internal/config"
	"github.com/stacklok/price-sync-server/internal/logging"
)

func main() {
	// Bootstrap logger from the environment. Commands rebuild it once the
	// full configuration is loaded.
	v := viper.New()
	v.AutomaticEnv()

	logger, err := logging.New(v.GetString(config.EnvLogLevel), v.GetString(config.EnvLogFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration, using defaults: %v\n", err)
		logger, _ = logging.New(config.DefaultLogLevel, config.DefaultLogFormat)
	}
	zap.ReplaceGlobals(logger)

	code := 0
	if err := app.NewRootCmd().Execute(); err != nil {
		code = 1
	}
	_ = zap.L().Sync()
	os.Exit(code)
}

// Package app provides the entry point for the price sync server application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/versions"
)

// NewRootCmd creates a new root command for the price sync server.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "price-sync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Shopify price sync server",
		Long: `price-sync recomputes Shopify variant prices from an external pricing feed
using a configurable formula and writes the changed prices back to the catalog.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				zap.L().Error("Error displaying help", zap.Error(err))
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML file with tunables (optional)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to a dotenv file (ignored when missing)")
	for _, name := range []string{"config", "env-file"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			zap.L().Error("Error binding flag", zap.String("flag", name), zap.Error(err))
		}
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateFormulaCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("retrieving format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("formatting version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "price-sync %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

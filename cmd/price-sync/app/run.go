package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/price-sync-server/internal/status"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
)

// errRunFailed makes the process exit non-zero after a fatal run
var errRunFailed = errors.New("run failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one price sync in the foreground",
		Long: `Run one full price sync, or a single-SKU sync with --sku, and print the
per-variant results. The run is cancelled on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runOnce,
	}
	cmd.Flags().String("sku", "", "Synchronize only the variant with this SKU")
	cmd.Flags().StringP("output", "o", "table", "Output format (table, json)")
	return cmd
}

func runOnce(cmd *cobra.Command, _ []string) error {
	sku, err := cmd.Flags().GetString("sku")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = comps.close(context.WithoutCancel(ctx))
	}()

	req := pkgsync.NewFullRequest(status.TriggerCLI)
	if sku = strings.TrimSpace(sku); sku != "" {
		req = pkgsync.NewSKURequest(sku, status.TriggerCLI)
	}

	summary := comps.manager.Run(ctx, req)

	if output == "json" {
		err = writeJSONSummary(cmd.OutOrStdout(), summary)
	} else {
		err = writeTableSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		return err
	}

	if !summary.Succeeded() {
		return fmt.Errorf("%w: %s", errRunFailed, summary.Error)
	}
	return nil
}

func writeJSONSummary(w io.Writer, summary *status.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// writeTableSummary prints one row per variant followed by the run totals
func writeTableSummary(w io.Writer, summary *status.RunSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("SKU", "Normalized", "Old price", "New price", "Outcome", "Reason")

	for _, r := range summary.Results {
		newPrice := ""
		if r.NewPrice != nil {
			newPrice = r.NewPrice.StringFixed(2)
		}
		if err := table.Append(
			r.OriginalSKU,
			r.NormalizedSKU,
			r.OldPrice.StringFixed(2),
			newPrice,
			string(r.Outcome),
			r.Reason,
		); err != nil {
			return fmt.Errorf("rendering results: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering results: %w", err)
	}

	_, err := fmt.Fprintf(w, "\n%s run %s (%s): %d updated, %d skipped, %d failed, %d without SKU in %s\n",
		summary.Kind, summary.RunID, summary.Trigger,
		summary.Updated, summary.Skipped, summary.Failed, summary.MissingSKU, summary.Duration)
	if err != nil {
		return err
	}
	if summary.Error != "" {
		_, err = fmt.Fprintf(w, "error in %s: %s\n", strings.ToLower(string(summary.Phase)), summary.Error)
	}
	return err
}

package app

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/price-sync-server/internal/config"
	"github.com/stacklok/price-sync-server/internal/formula"
)

func newValidateFormulaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-formula",
		Short: "Parse and validate the pricing formulas",
		Long: `Parse the base formula and the optional low-price formula, check that they
cannot produce a negative price and optionally evaluate them for sample
reference prices.
No catalog or feed credentials are needed.`,
		Args: cobra.NoArgs,
		RunE: runValidateFormula,
	}
	cmd.Flags().String("file", "", "Base formula file (default $FORMULA_FILE or formula.txt)")
	cmd.Flags().String("low-price-file", "", "Low-price formula file (default $UNDER5_FORMULA_FILE or under5.txt)")
	cmd.Flags().String("threshold", formula.DefaultTierThreshold.String(),
		"Reference prices below this use the low-price formula")
	cmd.Flags().StringSlice("price", nil, "Reference price to evaluate (repeatable)")
	return cmd
}

func runValidateFormula(cmd *cobra.Command, _ []string) error {
	env := viper.New()
	env.AutomaticEnv()
	env.SetDefault(config.EnvFormulaFile, config.DefaultFormulaFile)
	env.SetDefault(config.EnvLowPriceFormula, config.DefaultLowPriceFormulaFile)

	base := flagOr(cmd, "file", env.GetString(config.EnvFormulaFile))
	low := flagOr(cmd, "low-price-file", env.GetString(config.EnvLowPriceFormula))

	thresholdFlag, err := cmd.Flags().GetString("threshold")
	if err != nil {
		return err
	}
	threshold, err := config.FormulaConfig{TierThreshold: thresholdFlag}.Threshold()
	if err != nil {
		return err
	}

	raw, err := cmd.Flags().GetStringSlice("price")
	if err != nil {
		return err
	}
	prices := make([]decimal.Decimal, 0, len(raw))
	for _, p := range raw {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return fmt.Errorf("invalid --price %q: %w", p, err)
		}
		prices = append(prices, d)
	}

	pricer, err := formula.LoadPricer(base, low, threshold)
	if err != nil {
		return err
	}
	if err := pricer.Validate(); err != nil {
		return err
	}

	return writeFormulaReport(cmd.OutOrStdout(), pricer, prices)
}

func flagOr(cmd *cobra.Command, name, fallback string) string {
	if v, err := cmd.Flags().GetString(name); err == nil && v != "" {
		return v
	}
	return fallback
}

// writeFormulaReport prints the formulas and one row per sample price
func writeFormulaReport(w io.Writer, pricer *formula.Pricer, prices []decimal.Decimal) error {
	if _, err := fmt.Fprintf(w, "formula OK: %s\n", pricer.Describe()); err != nil {
		return err
	}
	if len(prices) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Reference price", "Computed price")
	for _, x := range prices {
		computed := ""
		v, err := pricer.Price(x)
		if err != nil {
			computed = "error: " + err.Error()
		} else {
			computed = v.StringFixed(2)
		}
		if err := table.Append(x.String(), computed); err != nil {
			return err
		}
	}
	return table.Render()
}

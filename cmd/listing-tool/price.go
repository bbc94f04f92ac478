package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raine/vehicle-listing-bot/internal/pricing"
)

type priceFlags struct {
	asking   int
	average  int
	mileage  int
	features int
	trim     string
	title    string
	tier     string
	table    string
}

func priceCommand() *cobra.Command {
	flags := &priceFlags{}
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Print the pricing breakdown for an asking price or market average",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrice(cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().IntVar(&flags.asking, "asking", 0, "Asking price")
	cmd.Flags().IntVar(&flags.average, "average", 0, "Market average, used as the base when set")
	cmd.Flags().IntVar(&flags.mileage, "mileage", 0, "Odometer reading in miles")
	cmd.Flags().IntVar(&flags.features, "features", 0, "Number of listed features")
	cmd.Flags().StringVar(&flags.trim, "trim", "", "Trim level")
	cmd.Flags().StringVar(&flags.title, "title", "", "Title status, e.g. clean, rebuilt, salvage")
	cmd.Flags().StringVar(&flags.tier, "tier", string(pricing.TierMarket), "Tier to mark: quick, market or premium")
	cmd.Flags().StringVar(&flags.table, "table", "", "YAML pricing table (default: built-in)")

	return cmd
}

func runPrice(w io.Writer, flags *priceFlags) error {
	tier, ok := pricing.ParseTier(flags.tier)
	if !ok {
		return fmt.Errorf("unknown tier %q", flags.tier)
	}

	table := pricing.DefaultTable()
	if flags.table != "" {
		var err error
		if table, err = pricing.LoadTable(flags.table); err != nil {
			return err
		}
	}

	b, err := pricing.NewEngine(table).Synthesize(pricing.Input{
		AskingPrice:   flags.asking,
		MarketAverage: flags.average,
		TitleStatus:   flags.title,
		Trim:          flags.trim,
		Mileage:       flags.mileage,
		FeatureCount:  flags.features,
	})
	if err != nil {
		return fmt.Errorf("need --asking or --average: %w", err)
	}

	fmt.Fprint(w, formatBreakdown(b, tier))
	if msg := pricing.Classify(flags.asking, flags.average).Message(); msg != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, msg)
	}
	return nil
}

func formatBreakdown(b pricing.Breakdown, selected pricing.Tier) string {
	var sb strings.Builder

	source := "asking price"
	if b.BaseSource() == pricing.BaseMarketAverage {
		source = "market average"
	}
	fmt.Fprintf(&sb, "Base: %s (%s)\n\n", pricing.FormatPrice(b.Base()), source)

	tiers := b.Tiers()
	for _, t := range []pricing.Tier{pricing.TierQuickSale, pricing.TierMarket, pricing.TierPremium} {
		marker := " "
		if t == selected {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %-10s %s\n", marker, t.Label(), pricing.FormatPrice(tiers.Price(t)))
	}

	if adjustments := b.Adjustments(); len(adjustments) > 0 {
		sb.WriteString("\nAdjustments:\n")
		for _, a := range adjustments {
			fmt.Fprintf(&sb, "  %s: %s (%+.0f%%)\n", a.Label, signedPrice(a.Amount), a.Percent)
		}
	}
	return sb.String()
}

func signedPrice(n int) string {
	if n < 0 {
		return "-" + pricing.FormatPrice(-n)
	}
	return "+" + pricing.FormatPrice(n)
}

package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol   string
	simulateBaseline float64
	simulateLatest   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic price-move alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBaseline <= 0 || simulateLatest <= 0 {
			return errors.New("--baseline and --latest must be greater than 0")
		}

		baseline := decimal.NewFromFloat(simulateBaseline)
		latest := decimal.NewFromFloat(simulateLatest)
		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, baseline, latest)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "TESTUSDT", "Symbol to attribute the synthetic move to")
	simulateCmd.Flags().Float64Var(&simulateBaseline, "baseline", 0, "Baseline price")
	simulateCmd.Flags().Float64Var(&simulateLatest, "latest", 0, "Latest price")
}

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"stock-price-alerts/internal/app"
)

var (
	simulateSymbol   string
	simulatePrice    string
	simulateDispatch bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate a symbol's alerts against a hypothetical price",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" || simulatePrice == "" {
			return errors.New("--symbol and --price must be provided")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:   simulateSymbol,
			Price:    simulatePrice,
			Dispatch: simulateDispatch,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Ticker symbol")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Hypothetical price")
	simulateCmd.Flags().BoolVar(&simulateDispatch, "dispatch", false, "Actually send the resulting notifications")
}

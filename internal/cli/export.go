package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stock-price-alerts/internal/app"
)

var (
	exportSymbol    string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a symbol's stored price history to a CSV file and/or a PNG price chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Symbol:    exportSymbol,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		var err error
		if opts.From, err = parseQuoteTime("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseQuoteTime("to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Ticker symbol whose quote history is exported (required)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Earliest quote time to include, RFC3339 (defaults to max-points polling intervals before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Quote time to stop before, RFC3339 (defaults to now)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Write a price / day-range chart to this PNG file")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Write quote rows (time, price, day low/high, volume) to this CSV file")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Downsample to at most this many quotes (defaults to export.max_data_points)")
	_ = exportCmd.MarkFlagRequired("symbol")
}

// parseQuoteTime parses an optional RFC3339 flag value; empty means unset.
func parseQuoteTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s is not an RFC3339 quote time: %w", flag, err)
	}
	return &t, nil
}

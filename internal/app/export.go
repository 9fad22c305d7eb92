package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"stock-price-alerts/internal/quote"
)

// Export renders a symbol's quote history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	symbol := quote.NormalizeSymbol(opts.Symbol)
	if symbol == "" {
		return errors.New("symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Quotes.PollingInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	history, err := repo.ListHistory(ctx, symbol, from, to, 0)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("symbol", symbol).Msg("no quotes found for export window")
		return nil
	}

	downsampled := downsampleQuotes(history, opts.MaxPoints)
	a.Logger.Info().Str("symbol", symbol).Int("total", len(history)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeQuotesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeQuotesPNG(opts.PNGPath, symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleQuotes(records []quote.Record, max int) []quote.Record {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]quote.Record, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeQuotesCSV(path string, records []quote.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"quoted_at", "symbol", "price", "day_low", "day_high", "volume"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Time().UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Price.String(),
			rec.DayLow.String(),
			rec.DayHigh.String(),
			strconv.FormatInt(rec.Volume, 10),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeQuotesPNG(path, symbol string, records []quote.Record) error {
	if len(records) < 2 {
		return errors.New("at least two quotes are needed to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	price := make([]float64, len(records))
	low := make([]float64, len(records))
	high := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.Time().UTC()
		price[i] = rec.Price.InexactFloat64()
		low[i] = rec.DayLow.InexactFloat64()
		high[i] = rec.DayHigh.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Day low",
				XValues: x,
				YValues: low,
			},
			chart.TimeSeries{
				Name:    "Day high",
				XValues: x,
				YValues: high,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

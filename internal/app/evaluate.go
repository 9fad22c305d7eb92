package app

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"
)

// EvaluateOnce runs a single evaluation cycle and prints what happened.
func (a *App) EvaluateOnce(ctx context.Context) error {
	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	c.broadcaster.Start(ctx)
	report, cycleErr := c.service.RunCycle(ctx, time.Now().UTC())

	if err := c.states.Close(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("state flush failed")
	}
	if err := c.broadcaster.Close(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("failure broadcasts not drained")
	}
	if cycleErr != nil {
		return cycleErr
	}

	if report.Skipped {
		fmt.Fprintln(a.Out, "cycle skipped (alerting disabled or another instance holds the lock)")
		return nil
	}

	fmt.Fprintf(a.Out, "alerts: %d  decisions: %d  sent: %d  failed: %d\n",
		report.Alerts, len(report.Result.Decisions), len(report.Delivery.Sent), len(report.Delivery.Failed))

	symbols := make([]string, 0, len(report.Prices)+len(report.PriceErrors))
	for symbol := range report.Prices {
		symbols = append(symbols, symbol)
	}
	for symbol := range report.PriceErrors {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPrice\tSource\tStale")
	for _, symbol := range symbols {
		if err, failed := report.PriceErrors[symbol]; failed {
			fmt.Fprintf(writer, "%s\t-\t-\t%s\n", symbol, sanitizeInline(err.Error()))
			continue
		}
		res := report.Prices[symbol]
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", symbol, res.Quote.Price.StringFixed(2), res.Source, staleLabel(res.Stale, string(res.StaleReason)))
	}
	return writer.Flush()
}

// Quote resolves a single symbol through the full acquisition pipeline.
func (a *App) Quote(ctx context.Context, symbol string) error {
	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	c.broadcaster.Start(ctx)
	defer func() { _ = c.broadcaster.Close(ctx) }()

	res, err := c.pipeline.Get(ctx, symbol)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPrice\tLow\tHigh\tVolume\tQuoted (UTC)\tSource\tStale")
	fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
		res.Quote.Symbol,
		formatDecimal(res.Quote.Price, 2),
		formatDecimal(res.Quote.DayLow, 2),
		formatDecimal(res.Quote.DayHigh, 2),
		res.Quote.Volume,
		res.Quote.Time().UTC().Format(time.RFC3339),
		res.Source,
		staleLabel(res.Stale, string(res.StaleReason)),
	)
	return writer.Flush()
}

func staleLabel(stale bool, reason string) string {
	if !stale {
		return "no"
	}
	return "yes (" + reason + ")"
}

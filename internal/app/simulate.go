package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// SimulateAlert evaluates the alerts on a symbol against a given price
// without touching stored state. With Dispatch set the resulting
// notifications are really sent.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	price, err := decimal.NewFromString(opts.Price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", opts.Price, err)
	}
	if !price.IsPositive() {
		return errors.New("price must be greater than zero")
	}

	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	result, delivery, err := c.service.Simulate(ctx, opts.Symbol, price, time.Now().UTC(), opts.Dispatch)
	if err != nil {
		return err
	}

	if len(result.Decisions) == 0 {
		fmt.Fprintf(a.Out, "no alerts would fire (%d skipped)\n", len(result.Skipped))
		return nil
	}

	failed := make(map[string]error, len(delivery.Failed))
	for _, f := range delivery.Failed {
		failed[f.AlertID] = f.Err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Alert\tSymbol\tDirection\tThreshold\tKind\tChannel\tDelivery")
	for _, d := range result.Decisions {
		status := "not sent"
		if opts.Dispatch {
			status = "sent"
			if err, ok := failed[d.AlertID]; ok {
				status = "failed: " + sanitizeInline(err.Error())
			}
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.AlertID, d.Symbol, d.Direction, formatDecimal(d.Threshold, 2), d.Kind, d.Channel, status)
	}
	return writer.Flush()
}

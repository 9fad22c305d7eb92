package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"stock-price-alerts/internal/storage"
)

// Show prints the most recent stored quotes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if opts.Alerts {
		return a.showAlerts(ctx, repo)
	}

	quotes, err := repo.ListRecent(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		fmt.Fprintln(a.Out, "no quotes found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tLow\tHigh\tVolume")

	for _, q := range quotes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\n",
			q.Time().UTC().Format(time.RFC3339),
			q.Symbol,
			formatDecimal(q.Price, 2),
			formatDecimal(q.DayLow, 2),
			formatDecimal(q.DayHigh, 2),
			q.Volume,
		)
	}

	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, repo storage.Repository) error {
	alerts, err := repo.ListAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts defined")
		return nil
	}

	ids := make([]string, 0, len(alerts))
	for _, alert := range alerts {
		ids = append(ids, alert.ID)
	}
	states, err := repo.LoadStates(ctx, ids)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tDirection\tThreshold\tStatus\tChannel\tLast Price\tLast Notified (UTC)")

	for _, alert := range alerts {
		lastPrice, lastAt := "-", "-"
		if st, ok := states[alert.ID]; ok {
			if !st.LastNotifiedPrice.IsZero() {
				lastPrice = formatDecimal(st.LastNotifiedPrice, 2)
			}
			if !st.LastNotifiedAt.IsZero() {
				lastAt = st.LastNotifiedAt.UTC().Format(time.RFC3339)
			}
		}
		channel := alert.Channel
		if channel == "" {
			channel = "default"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID, alert.Symbol, alert.Direction, formatDecimal(alert.Threshold, 2),
			alert.Status, channel, lastPrice, lastAt)
	}

	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

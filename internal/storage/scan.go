package storage

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
)

func scanAlert(row pgx.Row) (engine.Alert, error) {
	var (
		alert        engine.Alert
		direction    string
		thresholdStr string
		status       string
	)
	if err := row.Scan(
		&alert.ID,
		&alert.Symbol,
		&direction,
		&thresholdStr,
		&status,
		&alert.Channel,
		&alert.Target,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return engine.Alert{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return engine.Alert{}, fmt.Errorf("parse threshold: %w", err)
	}
	alert.Threshold = threshold
	alert.Direction = engine.Direction(direction)
	alert.Status = engine.Status(status)
	return alert, nil
}

func scanQuote(row pgx.Row) (quote.Record, error) {
	var (
		rec      quote.Record
		priceStr string
		lowStr   string
		highStr  string
		quotedAt time.Time
	)
	if err := row.Scan(&rec.Symbol, &priceStr, &lowStr, &highStr, &rec.Volume, &quotedAt); err != nil {
		return quote.Record{}, err
	}

	var err error
	if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
		return quote.Record{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.DayLow, err = decimal.NewFromString(lowStr); err != nil {
		return quote.Record{}, fmt.Errorf("parse day low: %w", err)
	}
	if rec.DayHigh, err = decimal.NewFromString(highStr); err != nil {
		return quote.Record{}, fmt.Errorf("parse day high: %w", err)
	}
	rec.Timestamp = quotedAt.Unix()
	return rec, nil
}

func scanState(row pgx.Row) (string, engine.State, error) {
	var (
		id          string
		st          engine.State
		lastPrice   string
		notified    string
		triggeredAt *time.Time
		notifiedAt  *time.Time
	)
	if err := row.Scan(&id, &st.LastConditionMet, &lastPrice, &triggeredAt, &notified, &notifiedAt); err != nil {
		return "", engine.State{}, err
	}

	var err error
	if st.LastPrice, err = decimal.NewFromString(lastPrice); err != nil {
		return "", engine.State{}, fmt.Errorf("parse last price: %w", err)
	}
	if st.LastNotifiedPrice, err = decimal.NewFromString(notified); err != nil {
		return "", engine.State{}, fmt.Errorf("parse last notified price: %w", err)
	}
	if triggeredAt != nil {
		st.LastTriggeredAt = *triggeredAt
	}
	if notifiedAt != nil {
		st.LastNotifiedAt = *notifiedAt
	}
	return id, st, nil
}

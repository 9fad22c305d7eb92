package app

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"stock-price-alerts/internal/engine"
)

type alertFile struct {
	Alerts []alertSeed `yaml:"alerts"`
}

type alertSeed struct {
	Symbol    string `yaml:"symbol"`
	Direction string `yaml:"direction"`
	Threshold string `yaml:"threshold"`
	Status    string `yaml:"status"`
	Channel   string `yaml:"channel"`
	Target    string `yaml:"target"`
}

func (s alertSeed) alert() (engine.Alert, error) {
	threshold, err := decimal.NewFromString(s.Threshold)
	if err != nil {
		return engine.Alert{}, fmt.Errorf("threshold %q: %w", s.Threshold, err)
	}
	status := engine.Status(s.Status)
	if status == "" {
		status = engine.StatusActive
	}
	return engine.Alert{
		Symbol:    s.Symbol,
		Direction: engine.Direction(s.Direction),
		Threshold: threshold,
		Status:    status,
		Channel:   s.Channel,
		Target:    s.Target,
	}, nil
}

// ImportAlerts creates the alerts listed in a YAML seed file. Entries are
// validated up front; nothing is written if any entry is invalid.
func (a *App) ImportAlerts(ctx context.Context, path string) ([]engine.Alert, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert file: %w", err)
	}

	var file alertFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse alert file: %w", err)
	}

	alerts := make([]engine.Alert, 0, len(file.Alerts))
	for i, seed := range file.Alerts {
		alert, err := seed.alert()
		if err == nil {
			err = alert.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", i+1, err)
		}
		alerts = append(alerts, alert)
	}

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	defer closeRepo()

	created := make([]engine.Alert, 0, len(alerts))
	for _, alert := range alerts {
		stored, err := repo.CreateAlert(ctx, alert)
		if err != nil {
			return created, fmt.Errorf("create alert for %s: %w", alert.Symbol, err)
		}
		a.Logger.Info().Str("alert_id", stored.ID).Str("symbol", stored.Symbol).
			Str("direction", string(stored.Direction)).
			Str("threshold", stored.Threshold.String()).
			Msg("alert imported")
		created = append(created, stored)
	}
	return created, nil
}

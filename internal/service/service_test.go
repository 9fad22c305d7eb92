package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-price-alerts/internal/alerting"
	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
	"stock-price-alerts/internal/state"
	"stock-price-alerts/internal/storage"
)

type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	stale  map[string]bool
	calls  []string
}

func (q *stubQuotes) Get(_ context.Context, symbol string) (quote.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, symbol)
	if err := q.errs[symbol]; err != nil {
		return quote.Result{}, err
	}
	price, ok := q.prices[symbol]
	if !ok {
		return quote.Result{}, fmt.Errorf("%w: %s", quote.ErrNoPriceAvailable, symbol)
	}
	res := quote.Result{Quote: quote.Record{Symbol: symbol, Price: decimal.NewFromFloat(price)}, Source: quote.SourceProvider}
	if q.stale[symbol] {
		res.Stale, res.StaleReason, res.Source = true, quote.ReasonProviderAPI, quote.SourceFallback
	}
	return res, nil
}

type recordingDispatcher struct {
	batches [][]engine.Decision
	fail    bool
}

func (d *recordingDispatcher) DispatchAll(_ context.Context, decisions []engine.Decision) alerting.Report {
	d.batches = append(d.batches, decisions)
	var report alerting.Report
	for _, dec := range decisions {
		if d.fail {
			report.Failed = append(report.Failed, alerting.Failure{AlertID: dec.AlertID, Err: errors.New("push rejected")})
			continue
		}
		report.Sent = append(report.Sent, dec.AlertID)
	}
	return report
}

type fixture struct {
	repo       *storage.Memory
	quotes     *stubQuotes
	dispatcher *recordingDispatcher
	states     *state.Buffered
	svc        *Service
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:       storage.NewMemory(),
		quotes:     &stubQuotes{prices: map[string]float64{}, errs: map[string]error{}, stale: map[string]bool{}},
		dispatcher: &recordingDispatcher{},
		now:        time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC),
	}
	f.states = state.NewBuffered(f.repo, true, zerolog.Nop())
	f.svc = New(Options{
		Alerts:     f.repo,
		Quotes:     f.quotes,
		States:     f.states,
		Dispatcher: f.dispatcher,
		Locker:     f.repo,
		LockKey:    42,
		Enabled:    true,
	}, nil, zerolog.Nop())
	return f
}

func (f *fixture) alert(t *testing.T, symbol string, direction engine.Direction, threshold int64) engine.Alert {
	t.Helper()
	a, err := f.repo.CreateAlert(context.Background(), engine.Alert{
		Symbol:    symbol,
		Direction: direction,
		Threshold: decimal.NewFromInt(threshold),
		Channel:   "expo",
		Target:    "tok-" + symbol,
	})
	require.NoError(t, err)
	return a
}

func TestRunCycleNotifiesOnCrossingOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aapl := f.alert(t, "AAPL", engine.DirectionAbove, 150)
	f.alert(t, "MSFT", engine.DirectionBelow, 400)
	f.quotes.prices["AAPL"] = 151
	f.quotes.prices["MSFT"] = 410

	report, err := f.svc.RunCycle(ctx, f.now)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Alerts)
	require.Len(t, report.Result.Decisions, 1)
	assert.Equal(t, aapl.ID, report.Result.Decisions[0].AlertID)
	assert.Equal(t, []string{aapl.ID}, report.Delivery.Sent)

	states, err := f.repo.LoadStates(ctx, []string{aapl.ID})
	require.NoError(t, err)
	assert.True(t, states[aapl.ID].LastConditionMet)
	assert.True(t, states[aapl.ID].LastNotifiedPrice.Equal(decimal.NewFromInt(151)))

	report, err = f.svc.RunCycle(ctx, f.now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, report.Result.Decisions, "condition still held: no repeat")
	assert.Len(t, f.dispatcher.batches, 1, "dispatcher is not called without decisions")
}

func TestRunCycleIsolatesSymbolFailures(t *testing.T) {
	f := newFixture(t)
	aapl := f.alert(t, "AAPL", engine.DirectionAbove, 150)
	tsla := f.alert(t, "TSLA", engine.DirectionBelow, 200)
	f.quotes.prices["AAPL"] = 151
	f.quotes.errs["TSLA"] = errors.New("boom")

	report, err := f.svc.RunCycle(context.Background(), f.now)
	require.NoError(t, err)

	assert.Contains(t, report.PriceErrors, "TSLA")
	require.Len(t, report.Result.Decisions, 1)
	assert.Equal(t, aapl.ID, report.Result.Decisions[0].AlertID)
	assert.Contains(t, report.Result.Skipped, engine.Skip{AlertID: tsla.ID, Reason: engine.SkipMissingPrice})
	assert.ElementsMatch(t, []string{"AAPL", "TSLA"}, f.quotes.calls)
}

func TestRunCycleEvaluatesStalePrices(t *testing.T) {
	f := newFixture(t)
	f.alert(t, "AAPL", engine.DirectionAbove, 150)
	f.quotes.prices["AAPL"] = 151
	f.quotes.stale["AAPL"] = true

	report, err := f.svc.RunCycle(context.Background(), f.now)
	require.NoError(t, err)
	assert.True(t, report.Prices["AAPL"].Stale)
	assert.Len(t, report.Result.Decisions, 1)
}

func TestRunCycleSavesStateWhenDeliveryFails(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.fail = true
	a := f.alert(t, "AAPL", engine.DirectionAbove, 150)
	f.quotes.prices["AAPL"] = 151

	report, err := f.svc.RunCycle(context.Background(), f.now)
	require.NoError(t, err)
	assert.Len(t, report.Delivery.Failed, 1)

	states, _ := f.repo.LoadStates(context.Background(), []string{a.ID})
	assert.True(t, states[a.ID].LastConditionMet)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.alert(t, "AAPL", engine.DirectionAbove, 150)

	unlock, ok, err := f.repo.TryAdvisoryLock(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	report, err := f.svc.RunCycle(context.Background(), f.now)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Empty(t, f.quotes.calls)
}

func TestRunCycleDisabled(t *testing.T) {
	f := newFixture(t)
	f.svc.opts.Enabled = false
	f.alert(t, "AAPL", engine.DirectionAbove, 150)

	report, err := f.svc.RunCycle(context.Background(), f.now)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Empty(t, f.quotes.calls)
}

func TestRunCycleIgnoresPausedAlerts(t *testing.T) {
	f := newFixture(t)
	a := f.alert(t, "AAPL", engine.DirectionAbove, 150)
	a.Status = engine.StatusPaused
	_, err := f.repo.UpdateAlert(context.Background(), a)
	require.NoError(t, err)

	report, err := f.svc.RunCycle(context.Background(), f.now)
	require.NoError(t, err)
	assert.Zero(t, report.Alerts)
	assert.Empty(t, f.quotes.calls)
}

func TestSimulateDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	a := f.alert(t, "AAPL", engine.DirectionAbove, 150)

	result, delivery, err := f.svc.Simulate(context.Background(), "aapl", decimal.NewFromInt(155), f.now, false)
	require.NoError(t, err)
	require.Len(t, result.Decisions, 1)
	assert.Empty(t, delivery.Sent)
	assert.Empty(t, f.dispatcher.batches)

	states, _ := f.repo.LoadStates(context.Background(), []string{a.ID})
	assert.Empty(t, states)

	_, delivery, err = f.svc.Simulate(context.Background(), "AAPL", decimal.NewFromInt(155), f.now, true)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, delivery.Sent)
}

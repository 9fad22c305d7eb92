package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"stock-price-alerts/internal/alerting"
	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
	"stock-price-alerts/internal/scheduler"
	"stock-price-alerts/internal/storage"
)

// QuoteSource resolves the current quote for a symbol.
type QuoteSource interface {
	Get(ctx context.Context, symbol string) (quote.Result, error)
}

// Dispatcher delivers engine decisions.
type Dispatcher interface {
	DispatchAll(ctx context.Context, decisions []engine.Decision) alerting.Report
}

// StateStore loads and saves per-alert evaluation state.
type StateStore interface {
	Load(ctx context.Context, ids []string) (map[string]engine.State, error)
	Save(ctx context.Context, updates map[string]engine.State) error
}

// CycleObserver records cycle outcomes.
type CycleObserver interface {
	CycleFinished(outcome string, activeAlerts int, elapsed time.Duration)
}

// Options wire a Service.
type Options struct {
	Alerts           storage.AlertStore
	Quotes           QuoteSource
	States           StateStore
	Dispatcher       Dispatcher
	Locker           storage.AdvisoryLocker
	LockKey          int64
	Policy           func() engine.Policy
	FetchConcurrency int
	Enabled          bool
	Observer         CycleObserver
	Clock            func() time.Time
}

// CycleReport summarises one evaluation cycle.
type CycleReport struct {
	At          time.Time
	Skipped     bool
	Alerts      int
	Prices      map[string]quote.Result
	PriceErrors map[string]error
	Result      engine.Result
	Delivery    alerting.Report
}

// Service runs evaluation cycles.
type Service struct {
	opts      Options
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// New constructs the evaluation service. sched may be nil when only
// one-off cycles are run.
func New(opts Options, sched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	if opts.Policy == nil {
		opts.Policy = engine.DefaultPolicy
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		opts:      opts,
		scheduler: sched,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick runs one cycle for a scheduler bucket.
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	report, err := s.RunCycle(ctx, s.opts.Clock())
	if err != nil {
		return err
	}
	if report.Skipped {
		s.logger.Debug().Time("bucket", bucket).Msg("cycle skipped")
	}
	return nil
}

// RunCycle loads active alerts, resolves one price per symbol, evaluates,
// dispatches and persists state, in that order.
func (s *Service) RunCycle(ctx context.Context, now time.Time) (report CycleReport, err error) {
	report.At = now
	start := time.Now()
	defer func() {
		if s.opts.Observer == nil {
			return
		}
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case report.Skipped:
			outcome = "skipped"
		}
		s.opts.Observer.CycleFinished(outcome, report.Alerts, time.Since(start))
	}()

	if !s.opts.Enabled {
		s.logger.Debug().Msg("alerting disabled, skipping cycle")
		report.Skipped = true
		return report, nil
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	alerts, err := s.opts.Alerts.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active alerts: %w", err)
	}
	report.Alerts = len(alerts)
	if len(alerts) == 0 {
		s.logger.Debug().Msg("no active alerts")
		return report, nil
	}

	report.Prices, report.PriceErrors = s.resolvePrices(ctx, symbolsOf(alerts))

	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	states, err := s.opts.States.Load(ctx, ids)
	if err != nil {
		return report, err
	}

	prices := make(map[string]decimal.Decimal, len(report.Prices))
	for symbol, res := range report.Prices {
		prices[symbol] = res.Quote.Price
	}

	report.Result = s.opts.Policy().Evaluate(alerts, prices, states, now)
	if len(report.Result.Decisions) > 0 {
		report.Delivery = s.opts.Dispatcher.DispatchAll(ctx, report.Result.Decisions)
	}

	if err := s.opts.States.Save(ctx, report.Result.Updates); err != nil {
		return report, err
	}

	s.logger.Info().Int("alerts", len(alerts)).
		Int("symbols", len(report.Prices)+len(report.PriceErrors)).
		Int("price_errors", len(report.PriceErrors)).
		Int("decisions", len(report.Result.Decisions)).
		Int("sent", len(report.Delivery.Sent)).
		Int("failed", len(report.Delivery.Failed)).
		Int("skipped", len(report.Result.Skipped)).
		Msg("evaluation cycle complete")
	return report, nil
}

type priceOutcome struct {
	symbol string
	result quote.Result
	err    error
}

func (s *Service) resolvePrices(ctx context.Context, symbols []string) (map[string]quote.Result, map[string]error) {
	p := pool.NewWithResults[priceOutcome]().WithMaxGoroutines(s.opts.FetchConcurrency)
	for _, symbol := range symbols {
		p.Go(func() priceOutcome {
			res, err := s.opts.Quotes.Get(ctx, symbol)
			return priceOutcome{symbol: symbol, result: res, err: err}
		})
	}

	prices := make(map[string]quote.Result, len(symbols))
	failures := make(map[string]error)
	for _, out := range p.Wait() {
		if out.err != nil {
			failures[out.symbol] = out.err
			event := s.logger.Warn()
			if !errors.Is(out.err, quote.ErrUnavailableOutsideHours) && !errors.Is(out.err, quote.ErrNoPriceAvailable) {
				event = s.logger.Error()
			}
			event.Err(out.err).Str("symbol", out.symbol).Msg("no price for symbol this cycle")
			continue
		}
		if out.result.Stale {
			s.logger.Info().Str("symbol", out.symbol).
				Str("stale_reason", string(out.result.StaleReason)).
				Msg("evaluating against stale price")
		}
		prices[out.symbol] = out.result
	}
	return prices, failures
}

// Simulate evaluates the alerts on symbol against price without persisting
// state. Decisions are delivered only when dispatch is set.
func (s *Service) Simulate(ctx context.Context, symbol string, price decimal.Decimal, now time.Time, dispatch bool) (engine.Result, alerting.Report, error) {
	symbol = quote.NormalizeSymbol(symbol)
	alerts, err := s.opts.Alerts.ListBySymbol(ctx, symbol)
	if err != nil {
		return engine.Result{}, alerting.Report{}, fmt.Errorf("list alerts: %w", err)
	}

	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	states, err := s.opts.States.Load(ctx, ids)
	if err != nil {
		return engine.Result{}, alerting.Report{}, err
	}

	result := s.opts.Policy().Evaluate(alerts, map[string]decimal.Decimal{symbol: price}, states, now)

	var delivery alerting.Report
	if dispatch && len(result.Decisions) > 0 {
		delivery = s.opts.Dispatcher.DispatchAll(ctx, result.Decisions)
	}
	return result, delivery, nil
}

func symbolsOf(alerts []engine.Alert) []string {
	seen := make(map[string]struct{}, len(alerts))
	symbols := make([]string, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := seen[a.Symbol]; ok {
			continue
		}
		seen[a.Symbol] = struct{}{}
		symbols = append(symbols, a.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.opts.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// Package quote resolves current prices through the cache, durable storage
// and the upstream provider, falling back to the last stored quote when the
// provider misbehaves.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-price-alerts/internal/cache"
)

// Provider fetches a raw quote payload for a symbol.
type Provider interface {
	FetchQuote(ctx context.Context, symbol string) (map[string]any, error)
}

// Store is the durable "last known good" quote store. GetLatest returns
// (nil, nil) when nothing is stored for the symbol.
type Store interface {
	GetLatest(ctx context.Context, symbol string) (*Record, error)
	Insert(ctx context.Context, rec Record) error
}

// Gate reports whether upstream calls are permitted.
type Gate interface {
	Open(now time.Time) bool
}

// FailureNotifier receives an explicit hand-off whenever a stale fallback is
// served. Implementations throttle and deliver asynchronously.
type FailureNotifier interface {
	Enqueue(symbol string, reason StaleReason) bool
}

// Observer records pipeline outcomes for metrics.
type Observer interface {
	QuoteResolved(source Source, stale bool)
	ProviderFailed(reason StaleReason)
}

// Classifier maps a provider error to a stale reason.
type Classifier func(error) StaleReason

// Settings is the runtime-tunable part of the pipeline configuration.
type Settings struct {
	PollingInterval   time.Duration
	CacheGrace        time.Duration
	FailureSimulation bool
}

// Options wires a Pipeline.
type Options struct {
	Cache           cache.Store[Record]
	Store           Store
	Provider        Provider
	Gate            Gate
	Notifier        FailureNotifier
	Observer        Observer
	Classify        Classifier
	Settings        func() Settings
	ProviderTimeout time.Duration
	Clock           func() time.Time
}

// Pipeline implements quote acquisition.
type Pipeline struct {
	opts   Options
	logger zerolog.Logger
}

// NewPipeline builds a Pipeline, filling in no-op collaborators where
// optional ones are missing.
func NewPipeline(opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory[Record]()
	}
	if opts.Gate == nil {
		opts.Gate = alwaysOpen{}
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Classify == nil {
		opts.Classify = func(error) StaleReason { return ReasonProviderAPI }
	}
	if opts.Settings == nil {
		opts.Settings = func() Settings { return Settings{PollingInterval: time.Minute, CacheGrace: 5 * time.Second} }
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Pipeline{opts: opts, logger: logger.With().Str("component", "quote_pipeline").Logger()}
}

// Get resolves the current quote for symbol. It only fails with
// ErrUnavailableOutsideHours or ErrNoPriceAvailable (both wrapped with the
// symbol); every other problem degrades to a stale result.
func (p *Pipeline) Get(ctx context.Context, symbol string) (Result, error) {
	symbol = NormalizeSymbol(symbol)
	now := p.opts.Clock()
	settings := p.opts.Settings()

	if !p.opts.Gate.Open(now) {
		return p.serveClosed(ctx, symbol, now, settings)
	}

	if entry, ok := p.opts.Cache.Get(ctx, symbol); ok && entry.Age(now) < settings.PollingInterval {
		return p.resolved(Result{Quote: entry.Data, Source: SourceCache}), nil
	}

	if latest := p.latest(ctx, symbol); latest != nil && now.Sub(latest.Time()) < settings.PollingInterval {
		p.opts.Cache.Set(ctx, symbol, *latest, settings.PollingInterval+settings.CacheGrace)
		return p.resolved(Result{Quote: *latest, Source: SourceStore}), nil
	}

	if settings.FailureSimulation {
		return p.fallback(ctx, symbol, ReasonSimulation, errors.New("failure simulation enabled"))
	}

	rec, reason, err := p.fetch(ctx, symbol, now)
	if err != nil {
		return p.fallback(ctx, symbol, reason, err)
	}

	p.opts.Cache.Set(ctx, symbol, rec, settings.PollingInterval+settings.CacheGrace)
	if err := p.opts.Store.Insert(ctx, rec); err != nil {
		p.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist quote")
	}

	return p.resolved(Result{Quote: rec, Source: SourceProvider}), nil
}

// Refresh drops the process-cached entry for symbol before resolving it.
func (p *Pipeline) Refresh(ctx context.Context, symbol string) (Result, error) {
	p.opts.Cache.Invalidate(ctx, NormalizeSymbol(symbol))
	return p.Get(ctx, symbol)
}

func (p *Pipeline) fetch(ctx context.Context, symbol string, now time.Time) (Record, StaleReason, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ProviderTimeout)
	defer cancel()

	raw, err := p.opts.Provider.FetchQuote(ctx, symbol)
	if err != nil {
		return Record{}, p.opts.Classify(err), err
	}

	rec, err := Normalize(symbol, raw, now)
	if err != nil {
		return Record{}, ReasonProviderInvalid, err
	}
	return rec, ReasonNone, nil
}

func (p *Pipeline) fallback(ctx context.Context, symbol string, reason StaleReason, cause error) (Result, error) {
	p.opts.Observer.ProviderFailed(reason)

	latest := p.latest(ctx, symbol)
	if latest == nil {
		p.logger.Error().Err(cause).Str("symbol", symbol).Str("reason", string(reason)).
			Msg("provider failed and no stored quote to fall back to")
		return Result{}, fmt.Errorf("%w: %s", ErrNoPriceAvailable, symbol)
	}

	p.logger.Warn().Err(cause).Str("symbol", symbol).Str("reason", string(reason)).
		Time("quote_time", latest.Time()).
		Msg("serving stored quote")

	p.opts.Notifier.Enqueue(symbol, reason)

	return p.resolved(Result{Quote: *latest, Stale: true, StaleReason: reason, Source: SourceFallback}), nil
}

func (p *Pipeline) serveClosed(ctx context.Context, symbol string, now time.Time, settings Settings) (Result, error) {
	if entry, ok := p.opts.Cache.GetStale(ctx, symbol); ok {
		res := Result{Quote: entry.Data, Source: SourceCache}
		if entry.Age(now) >= settings.PollingInterval {
			res.Stale, res.StaleReason = true, ReasonOutsideHours
		}
		return p.resolved(res), nil
	}

	if latest := p.latest(ctx, symbol); latest != nil {
		res := Result{Quote: *latest, Source: SourceStore}
		if now.Sub(latest.Time()) >= settings.PollingInterval {
			res.Stale, res.StaleReason = true, ReasonOutsideHours
		}
		return p.resolved(res), nil
	}

	p.logger.Debug().Str("symbol", symbol).Msg("outside operating hours with nothing cached")
	return Result{}, fmt.Errorf("%w: %s", ErrUnavailableOutsideHours, symbol)
}

// latest reads the durable store. Lookup errors are logged and treated as
// "nothing stored".
func (p *Pipeline) latest(ctx context.Context, symbol string) *Record {
	rec, err := p.opts.Store.GetLatest(ctx, symbol)
	if err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("durable quote lookup failed")
		return nil
	}
	return rec
}

func (p *Pipeline) resolved(res Result) Result {
	p.opts.Observer.QuoteResolved(res.Source, res.Stale)
	return res
}

type alwaysOpen struct{}

func (alwaysOpen) Open(time.Time) bool { return true }

type noopNotifier struct{}

func (noopNotifier) Enqueue(string, StaleReason) bool { return false }

type noopObserver struct{}

func (noopObserver) QuoteResolved(Source, bool) {}
func (noopObserver) ProviderFailed(StaleReason) {}

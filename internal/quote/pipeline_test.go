package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-price-alerts/internal/cache"
)

type memStore struct {
	mu      sync.Mutex
	latest  map[string]Record
	inserts int
	getErr  error
}

func newMemStore() *memStore { return &memStore{latest: map[string]Record{}} }

func (s *memStore) GetLatest(_ context.Context, symbol string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.latest[symbol]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[rec.Symbol] = rec
	s.inserts++
	return nil
}

type stubProvider struct {
	calls   int
	payload map[string]any
	err     error
}

func (p *stubProvider) FetchQuote(context.Context, string) (map[string]any, error) {
	p.calls++
	return p.payload, p.err
}

type recordingNotifier struct {
	symbols []string
	reasons []StaleReason
}

func (n *recordingNotifier) Enqueue(symbol string, reason StaleReason) bool {
	n.symbols = append(n.symbols, symbol)
	n.reasons = append(n.reasons, reason)
	return true
}

type gateFunc func(time.Time) bool

func (g gateFunc) Open(t time.Time) bool { return g(t) }

type fixture struct {
	now      time.Time
	settings Settings
	open     bool
	cache    *cache.Memory[Record]
	store    *memStore
	provider *stubProvider
	notifier *recordingNotifier
	pipeline *Pipeline
}

var errUpstream = errors.New("upstream 503")

func newFixture() *fixture {
	f := &fixture{
		now:      time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC),
		settings: Settings{PollingInterval: time.Minute, CacheGrace: 5 * time.Second},
		open:     true,
		store:    newMemStore(),
		provider: &stubProvider{payload: map[string]any{"c": 205.5, "h": 207.0, "l": 201.0, "v": 1200.0}},
		notifier: &recordingNotifier{},
	}
	clock := func() time.Time { return f.now }
	f.cache = cache.NewMemory[Record](cache.WithClock[Record](clock))
	f.pipeline = NewPipeline(Options{
		Cache:    f.cache,
		Store:    f.store,
		Provider: f.provider,
		Gate:     gateFunc(func(time.Time) bool { return f.open }),
		Notifier: f.notifier,
		Classify: func(err error) StaleReason {
			if errors.Is(err, context.DeadlineExceeded) {
				return ReasonProviderNetwork
			}
			return ReasonProviderAPI
		},
		Settings: func() Settings { return f.settings },
		Clock:    clock,
	}, zerolog.Nop())
	return f
}

func (f *fixture) storeQuote(symbol string, price float64, at time.Time) {
	f.store.latest[symbol] = Record{Symbol: symbol, Price: decimal.NewFromFloat(price), DayLow: decimal.NewFromFloat(price), DayHigh: decimal.NewFromFloat(price), Timestamp: at.Unix()}
}

func TestGetFetchesAndWritesThrough(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.pipeline.Get(ctx, " aapl ")
	require.NoError(t, err)

	assert.Equal(t, SourceProvider, res.Source)
	assert.False(t, res.Stale)
	assert.Equal(t, "AAPL", res.Quote.Symbol)
	assert.True(t, res.Quote.Price.Equal(decimal.NewFromFloat(205.5)))
	assert.Equal(t, 1, f.store.inserts)

	entry, ok := f.cache.Get(ctx, "AAPL")
	require.True(t, ok)
	assert.Equal(t, f.now.Add(65*time.Second), entry.ExpiresAt)
}

func TestGetServesCacheWithinPollingInterval(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.pipeline.Get(ctx, "AAPL")
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Second)
	res, err := f.pipeline.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, 1, f.provider.calls)

	f.now = f.now.Add(31 * time.Second)
	res, err = f.pipeline.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, 2, f.provider.calls)
}

func TestGetUsesFreshDurableQuote(t *testing.T) {
	f := newFixture()
	f.storeQuote("MSFT", 410, f.now.Add(-20*time.Second))

	res, err := f.pipeline.Get(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.Equal(t, SourceStore, res.Source)
	assert.Zero(t, f.provider.calls)
	_, ok := f.cache.Get(context.Background(), "MSFT")
	assert.True(t, ok, "durable hit should warm the cache")
}

func TestGetFallsBackToStoredQuoteOnProviderError(t *testing.T) {
	f := newFixture()
	f.provider.err = errUpstream
	f.storeQuote("AAPL", 199, f.now.Add(-time.Hour))

	res, err := f.pipeline.Get(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.True(t, res.Stale)
	assert.Equal(t, ReasonProviderAPI, res.StaleReason)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Quote.Price.Equal(decimal.NewFromInt(199)))
	assert.Equal(t, []string{"AAPL"}, f.notifier.symbols)
	assert.Zero(t, f.store.inserts, "fallback quotes are never written back")
}

func TestGetFallbackOnMalformedPayload(t *testing.T) {
	f := newFixture()
	f.provider.payload = map[string]any{"c": 0.0}
	f.storeQuote("AAPL", 199, f.now.Add(-time.Hour))

	res, err := f.pipeline.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, ReasonProviderInvalid, res.StaleReason)
}

func TestGetFallbackOnTimeout(t *testing.T) {
	f := newFixture()
	f.provider.err = context.DeadlineExceeded
	f.storeQuote("AAPL", 199, f.now.Add(-time.Hour))

	res, err := f.pipeline.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, ReasonProviderNetwork, res.StaleReason)
}

func TestGetSimulationModeSkipsProvider(t *testing.T) {
	f := newFixture()
	f.settings.FailureSimulation = true
	f.storeQuote("AAPL", 199, f.now.Add(-time.Hour))

	res, err := f.pipeline.Get(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Zero(t, f.provider.calls)
	assert.Equal(t, ReasonSimulation, res.StaleReason)
	assert.Equal(t, []StaleReason{ReasonSimulation}, f.notifier.reasons)
}

func TestGetNoFallbackFails(t *testing.T) {
	f := newFixture()
	f.provider.err = errUpstream

	_, err := f.pipeline.Get(context.Background(), "NVDA")
	require.ErrorIs(t, err, ErrNoPriceAvailable)
	assert.Empty(t, f.notifier.symbols)
}

func TestGetDurableLookupErrorIsNotFatal(t *testing.T) {
	f := newFixture()
	f.store.getErr = errors.New("connection refused")

	res, err := f.pipeline.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
}

func TestGetOutsideHours(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.pipeline.Get(ctx, "AAPL")
	require.NoError(t, err)
	calls := f.provider.calls

	f.open = false
	f.now = f.now.Add(2 * time.Hour)

	res, err := f.pipeline.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, calls, f.provider.calls, "no upstream calls outside hours")
	assert.Equal(t, SourceCache, res.Source)
	assert.True(t, res.Stale)
	assert.Equal(t, ReasonOutsideHours, res.StaleReason)

	f.storeQuote("MSFT", 400, f.now.Add(-3*time.Hour))
	res, err = f.pipeline.Get(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source)

	_, err = f.pipeline.Get(ctx, "TSLA")
	require.ErrorIs(t, err, ErrUnavailableOutsideHours)
	assert.NotErrorIs(t, err, ErrNoPriceAvailable)
	assert.Empty(t, f.notifier.symbols)
}

func TestRefreshBypassesCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.pipeline.Get(ctx, "AAPL")
	require.NoError(t, err)

	f.store.latest = map[string]Record{}
	f.provider.payload = map[string]any{"c": 207.0}

	res, err := f.pipeline.Refresh(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, 2, f.provider.calls)
	assert.True(t, res.Quote.Price.Equal(decimal.NewFromInt(207)))
}

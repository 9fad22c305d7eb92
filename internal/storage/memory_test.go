package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
)

func newAlert(symbol string, direction engine.Direction, threshold int64) engine.Alert {
	return engine.Alert{
		Symbol:    symbol,
		Direction: direction,
		Threshold: decimal.NewFromInt(threshold),
		Channel:   " Expo ",
		Target:    "tok",
	}
}

func TestMemoryAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	created, err := m.CreateAlert(ctx, newAlert(" aapl", engine.DirectionAbove, 150))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "AAPL", created.Symbol)
	assert.Equal(t, engine.StatusActive, created.Status)
	assert.Equal(t, "expo", created.Channel)

	created.Status = engine.StatusPaused
	updated, err := m.UpdateAlert(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	bySymbol, err := m.ListBySymbol(ctx, "aapl")
	require.NoError(t, err)
	assert.Len(t, bySymbol, 1)

	_, err = m.UpdateAlert(ctx, engine.Alert{ID: "missing", Symbol: "X", Direction: engine.DirectionBelow, Threshold: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateRejectsInvalid(t *testing.T) {
	m := NewMemory()
	_, err := m.CreateAlert(context.Background(), newAlert("AAPL", "sideways", 150))
	require.Error(t, err)
	_, err = m.CreateAlert(context.Background(), newAlert("AAPL", engine.DirectionAbove, 0))
	require.Error(t, err)
}

func TestMemoryDeleteRemovesState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.CreateAlert(ctx, newAlert("AAPL", engine.DirectionAbove, 150))
	require.NoError(t, err)

	st := engine.State{LastConditionMet: true, LastPrice: decimal.NewFromInt(151)}
	require.NoError(t, m.SaveStates(ctx, map[string]engine.State{a.ID: st, "ghost": st}))

	loaded, err := m.LoadStates(ctx, []string{a.ID, "ghost"})
	require.NoError(t, err)
	assert.Len(t, loaded, 1, "state for unknown alerts is not stored")

	require.NoError(t, m.DeleteAlert(ctx, a.ID))
	loaded, err = m.LoadStates(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Empty(t, loaded)

	assert.ErrorIs(t, m.DeleteAlert(ctx, a.ID), ErrNotFound)
}

func TestMemoryQuotes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	latest, err := m.GetLatest(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i, price := range []int64{190, 192, 191} {
		require.NoError(t, m.Insert(ctx, quote.Record{Symbol: "AAPL", Price: decimal.NewFromInt(price), Timestamp: base.Add(time.Duration(i) * time.Hour).Unix()}))
	}
	require.NoError(t, m.Insert(ctx, quote.Record{Symbol: "MSFT", Price: decimal.NewFromInt(410), Timestamp: base.Unix()}))

	latest, err = m.GetLatest(ctx, "aapl")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(191)))

	history, err := m.ListHistory(ctx, "AAPL", base, base.Add(2*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	recent, err := m.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, base.Add(2*time.Hour).Unix(), recent[0].Timestamp)

	removed, err := m.PruneBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	latest, err = m.GetLatest(ctx, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemoryAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	unlock, ok, err := m.TryAdvisoryLock(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryAdvisoryLock(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	_, ok, _ = m.TryAdvisoryLock(ctx, 7)
	assert.True(t, ok)
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	_, err := s.ListActive(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.GetLatest(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

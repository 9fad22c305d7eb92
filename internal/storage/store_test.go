package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-price-alerts/internal/config"
	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
)

func postgresForTest(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("STOCKALERTS_TEST_DSN")
	if dsn == "" {
		t.Skip("STOCKALERTS_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)

	store := NewStore(pool)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := postgresForTest(t)
	ctx := context.Background()

	alert, err := store.CreateAlert(ctx, newAlert("ZZTEST", engine.DirectionBelow, 42))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.DeleteAlert(context.Background(), alert.ID) })

	got, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Threshold.Equal(decimal.NewFromInt(42)))

	now := time.Now().UTC().Truncate(time.Second)
	st := engine.State{LastConditionMet: true, LastPrice: decimal.NewFromFloat(41.5), LastNotifiedPrice: decimal.NewFromFloat(41.5), LastNotifiedAt: now, LastTriggeredAt: now}
	require.NoError(t, store.SaveStates(ctx, map[string]engine.State{alert.ID: st}))

	states, err := store.LoadStates(ctx, []string{alert.ID})
	require.NoError(t, err)
	assert.True(t, states[alert.ID].Equal(st))

	rec := quote.Record{Symbol: "ZZTEST", Price: decimal.NewFromFloat(41.5), DayLow: decimal.NewFromInt(40), DayHigh: decimal.NewFromInt(43), Volume: 10, Timestamp: now.Unix()}
	require.NoError(t, store.Insert(ctx, rec))
	latest, err := store.GetLatest(ctx, "ZZTEST")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Price.Equal(rec.Price))

	require.NoError(t, store.DeleteAlert(ctx, alert.ID))
	states, err = store.LoadStates(ctx, []string{alert.ID})
	require.NoError(t, err)
	assert.Empty(t, states)

	_, err = store.PruneBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
}

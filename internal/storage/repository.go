package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested alert does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	alertColumns = `id, symbol, direction, threshold::text, status, channel, target, created_at, updated_at`

	listAlertsSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    ORDER BY symbol, created_at;`

	listActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE status = 'active'
    ORDER BY symbol, created_at;`

	listAlertsBySymbolSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE symbol = $1
    ORDER BY created_at;`

	getAlertSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO price_alerts (
        id,
        symbol,
        direction,
        threshold,
        status,
        channel,
        target,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$8
    )
    RETURNING ` + alertColumns + `;`

	updateAlertSQL = `UPDATE price_alerts
    SET symbol     = $2,
        direction  = $3,
        threshold  = $4,
        status     = $5,
        channel    = $6,
        target     = $7,
        updated_at = $8
    WHERE id = $1
    RETURNING ` + alertColumns + `;`

	deleteAlertSQL = `DELETE FROM price_alerts WHERE id = $1;`

	insertQuoteSQL = `INSERT INTO stock_quotes (
        symbol,
        price,
        day_low,
        day_high,
        volume,
        quoted_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	quoteColumns = `symbol, price::text, day_low::text, day_high::text, volume, quoted_at`

	latestQuoteSQL = `SELECT ` + quoteColumns + `
    FROM stock_quotes
    WHERE symbol = $1
    ORDER BY quoted_at DESC, id DESC
    LIMIT 1;`

	listQuoteHistorySQL = `SELECT ` + quoteColumns + `
    FROM stock_quotes
    WHERE symbol = $1
      AND quoted_at >= $2
      AND quoted_at < $3
    ORDER BY quoted_at
    LIMIT $4;`

	listRecentQuotesSQL = `SELECT ` + quoteColumns + `
    FROM stock_quotes
    ORDER BY quoted_at DESC, id DESC
    LIMIT $1;`

	deleteQuotesBeforeSQL = `DELETE FROM stock_quotes WHERE quoted_at < $1;`

	loadStatesSQL = `SELECT
        alert_id,
        last_condition_met,
        COALESCE(last_price, 0)::text,
        last_triggered_at,
        COALESCE(last_notified_price, 0)::text,
        last_notified_at
    FROM alert_states
    WHERE alert_id = ANY($1);`

	upsertStateSQL = `INSERT INTO alert_states (
        alert_id,
        last_condition_met,
        last_price,
        last_triggered_at,
        last_notified_price,
        last_notified_at,
        updated_at
    )
    SELECT $1,$2,$3,$4,$5,$6,NOW()
    WHERE EXISTS (SELECT 1 FROM price_alerts WHERE id = $1)
    ON CONFLICT (alert_id) DO UPDATE
    SET
        last_condition_met  = EXCLUDED.last_condition_met,
        last_price          = EXCLUDED.last_price,
        last_triggered_at   = EXCLUDED.last_triggered_at,
        last_notified_price = EXCLUDED.last_notified_price,
        last_notified_at    = EXCLUDED.last_notified_at,
        updated_at          = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert definitions.
type AlertStore interface {
	ListAlerts(ctx context.Context) ([]engine.Alert, error)
	ListActive(ctx context.Context) ([]engine.Alert, error)
	ListBySymbol(ctx context.Context, symbol string) ([]engine.Alert, error)
	GetAlert(ctx context.Context, id string) (engine.Alert, error)
	CreateAlert(ctx context.Context, alert engine.Alert) (engine.Alert, error)
	UpdateAlert(ctx context.Context, alert engine.Alert) (engine.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
}

// QuoteStore defines operations for quote history. It satisfies quote.Store.
type QuoteStore interface {
	quote.Store
	ListHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]quote.Record, error)
	ListRecent(ctx context.Context, limit int) ([]quote.Record, error)
	PruneBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// StateStore persists per-alert evaluation state.
type StateStore interface {
	LoadStates(ctx context.Context, ids []string) (map[string]engine.State, error)
	SaveStates(ctx context.Context, states map[string]engine.State) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the service needs from durable storage.
type Repository interface {
	AlertStore
	QuoteStore
	StateStore
	AdvisoryLocker
	Migrate(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL Repository.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// a failed unlock is released with the session; drop the connection
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListAlerts lists every alert definition.
func (s *Store) ListAlerts(ctx context.Context) ([]engine.Alert, error) {
	return s.queryAlerts(ctx, "list alerts", listAlertsSQL)
}

// ListActive lists alerts with status active.
func (s *Store) ListActive(ctx context.Context) ([]engine.Alert, error) {
	return s.queryAlerts(ctx, "list active alerts", listActiveAlertsSQL)
}

// ListBySymbol lists all alerts on symbol, whatever their status.
func (s *Store) ListBySymbol(ctx context.Context, symbol string) ([]engine.Alert, error) {
	return s.queryAlerts(ctx, "list alerts by symbol", listAlertsBySymbolSQL, quote.NormalizeSymbol(symbol))
}

func (s *Store) queryAlerts(ctx context.Context, op, query string, args ...any) ([]engine.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	alerts := make([]engine.Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id string) (engine.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return engine.Alert{}, err
	}
	alert, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if err != nil {
		return engine.Alert{}, notFound("get alert", err)
	}
	return alert, nil
}

// CreateAlert validates and inserts an alert, assigning a new id.
func (s *Store) CreateAlert(ctx context.Context, alert engine.Alert) (engine.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return engine.Alert{}, err
	}

	alert = prepareAlert(alert)
	if err := alert.Validate(); err != nil {
		return engine.Alert{}, err
	}
	alert.ID = uuid.NewString()

	created, err := scanAlert(pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.Symbol,
		string(alert.Direction),
		alert.Threshold.String(),
		string(alert.Status),
		alert.Channel,
		alert.Target,
		s.now().UTC(),
	))
	if err != nil {
		return engine.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

// UpdateAlert replaces the mutable fields of an existing alert.
func (s *Store) UpdateAlert(ctx context.Context, alert engine.Alert) (engine.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return engine.Alert{}, err
	}

	alert = prepareAlert(alert)
	if err := alert.Validate(); err != nil {
		return engine.Alert{}, err
	}

	updated, err := scanAlert(pool.QueryRow(ctx, updateAlertSQL,
		alert.ID,
		alert.Symbol,
		string(alert.Direction),
		alert.Threshold.String(),
		string(alert.Status),
		alert.Channel,
		alert.Target,
		s.now().UTC(),
	))
	if err != nil {
		return engine.Alert{}, notFound("update alert", err)
	}
	return updated, nil
}

// DeleteAlert removes an alert; its evaluation state goes with it.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLatest returns the newest stored quote, or nil when none exists.
func (s *Store) GetLatest(ctx context.Context, symbol string) (*quote.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rec, err := scanQuote(pool.QueryRow(ctx, latestQuoteSQL, quote.NormalizeSymbol(symbol)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest quote: %w", err)
	}
	return &rec, nil
}

// Insert appends a quote to the history.
func (s *Store) Insert(ctx context.Context, rec quote.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertQuoteSQL,
		rec.Symbol,
		rec.Price.String(),
		rec.DayLow.String(),
		rec.DayHigh.String(),
		rec.Volume,
		rec.Time().UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("insert quote: %w", execErr)
	}
	return nil
}

// ListHistory lists quotes for symbol within [from, to).
func (s *Store) ListHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]quote.Record, error) {
	return s.queryQuotes(ctx, "list quote history", listQuoteHistorySQL, quote.NormalizeSymbol(symbol), from, to, limit)
}

// ListRecent lists the newest quotes across all symbols.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]quote.Record, error) {
	return s.queryQuotes(ctx, "list recent quotes", listRecentQuotesSQL, limit)
}

func (s *Store) queryQuotes(ctx context.Context, op, query string, args ...any) ([]quote.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	records := make([]quote.Record, 0)
	for rows.Next() {
		rec, scanErr := scanQuote(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// PruneBefore deletes quotes older than the cutoff.
func (s *Store) PruneBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteQuotesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("prune quotes: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// LoadStates returns stored state for the given alert ids. Ids without a
// row are absent from the map.
func (s *Store) LoadStates(ctx context.Context, ids []string) (map[string]engine.State, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	states := make(map[string]engine.State, len(ids))
	if len(ids) == 0 {
		return states, nil
	}

	rows, queryErr := pool.Query(ctx, loadStatesSQL, ids)
	if queryErr != nil {
		return nil, fmt.Errorf("load states: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		id, st, scanErr := scanState(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("load states: %w", scanErr)
		}
		states[id] = st
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

// SaveStates upserts states in a single transaction. States of alerts that
// were deleted meanwhile are silently dropped.
func (s *Store) SaveStates(ctx context.Context, states map[string]engine.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for id, st := range states {
			batch.Queue(upsertStateSQL,
				id,
				st.LastConditionMet,
				nullDecimal(st.LastPrice),
				nullTime(st.LastTriggeredAt),
				nullDecimal(st.LastNotifiedPrice),
				nullTime(st.LastNotifiedAt),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save states: %w", err)
		}
		return nil
	})
}

func prepareAlert(alert engine.Alert) engine.Alert {
	alert.Symbol = quote.NormalizeSymbol(alert.Symbol)
	alert.Channel = strings.ToLower(strings.TrimSpace(alert.Channel))
	alert.Target = strings.TrimSpace(alert.Target)
	if alert.Status == "" {
		alert.Status = engine.StatusActive
	}
	return alert
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullDecimal(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

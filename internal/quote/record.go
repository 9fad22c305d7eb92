package quote

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPriceAvailable means neither a live fetch nor a durable fallback
	// could produce a price for the symbol.
	ErrNoPriceAvailable = errors.New("no price available")
	// ErrUnavailableOutsideHours means upstream calls are paused by the
	// operating-hours gate and nothing was cached or stored.
	ErrUnavailableOutsideHours = errors.New("unavailable outside operating hours")
	// ErrMalformedPayload is returned by Normalize for unusable provider data.
	ErrMalformedPayload = errors.New("malformed provider payload")
)

// Record is a normalized quote. Timestamp is unix seconds.
type Record struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	DayLow    decimal.Decimal `json:"day_low"`
	DayHigh   decimal.Decimal `json:"day_high"`
	Volume    int64           `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// Time returns the quote timestamp.
func (r Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// StaleReason explains why a stale quote was served.
type StaleReason string

const (
	ReasonNone            StaleReason = ""
	ReasonProviderAPI     StaleReason = "provider_api_error"
	ReasonProviderInvalid StaleReason = "provider_invalid_data"
	ReasonProviderNetwork StaleReason = "provider_network_error"
	ReasonSimulation      StaleReason = "simulation_mode"
	ReasonOutsideHours    StaleReason = "outside_operating_hours"
)

// Source names the tier a quote was resolved from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceStore    Source = "store"
	SourceProvider Source = "provider"
	SourceFallback Source = "fallback"
)

// Result is what callers of the pipeline receive.
type Result struct {
	Quote       Record      `json:"quote"`
	Stale       bool        `json:"stale"`
	StaleReason StaleReason `json:"stale_reason,omitempty"`
	Source      Source      `json:"source"`
}

// NormalizeSymbol canonicalises a ticker for cache keys and storage.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

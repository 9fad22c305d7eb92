package quote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field precedence when mapping provider payloads. The first key present
// with a usable value wins.
var (
	priceKeys     = []string{"c", "price", "regularMarketPrice", "last", "close"}
	dayLowKeys    = []string{"l", "low", "dayLow", "regularMarketDayLow"}
	dayHighKeys   = []string{"h", "high", "dayHigh", "regularMarketDayHigh"}
	volumeKeys    = []string{"v", "volume", "regularMarketVolume"}
	timestampKeys = []string{"t", "timestamp", "regularMarketTime"}
)

// millisecond timestamps are larger than any plausible seconds value.
const msThreshold = 100_000_000_000

// Normalize maps a raw provider payload to a Record.
//
// A positive price is required. Missing or non-positive day low/high default
// to the price, a missing volume to zero, and a missing timestamp to now.
// Millisecond timestamps are converted to seconds.
func Normalize(symbol string, raw map[string]any, now time.Time) (Record, error) {
	price, ok := lookupDecimal(raw, priceKeys)
	if !ok || !price.IsPositive() {
		return Record{}, fmt.Errorf("%w: no positive price for %s", ErrMalformedPayload, symbol)
	}

	rec := Record{
		Symbol:    NormalizeSymbol(symbol),
		Price:     price,
		DayLow:    price,
		DayHigh:   price,
		Timestamp: now.Unix(),
	}

	if low, ok := lookupDecimal(raw, dayLowKeys); ok && low.IsPositive() {
		rec.DayLow = low
	}
	if high, ok := lookupDecimal(raw, dayHighKeys); ok && high.IsPositive() {
		rec.DayHigh = high
	}
	if vol, ok := lookupDecimal(raw, volumeKeys); ok && !vol.IsNegative() {
		rec.Volume = vol.IntPart()
	}
	if ts, ok := lookupDecimal(raw, timestampKeys); ok && ts.IsPositive() {
		secs := ts.IntPart()
		if secs > msThreshold {
			secs /= 1000
		}
		rec.Timestamp = secs
	}

	return rec, nil
}

func lookupDecimal(raw map[string]any, keys []string) (decimal.Decimal, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if dec, ok := toDecimal(v); ok {
			return dec, true
		}
	}
	return decimal.Decimal{}, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case json.Number:
		dec, err := decimal.NewFromString(val.String())
		return dec, err == nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Decimal{}, false
		}
		if dec, err := decimal.NewFromString(s); err == nil {
			return dec, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return decimal.NewFromFloat(f), true
		}
		return decimal.Decimal{}, false
	default:
		return decimal.Decimal{}, false
	}
}

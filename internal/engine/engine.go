// Package engine decides, for each alert and price snapshot, whether a
// notification must fire. Evaluation is pure: no I/O, no clock reads, and
// identical inputs always produce identical outputs.
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultCooldown is the minimum gap between repeat notifications while a
	// condition stays met.
	DefaultCooldown = 15 * time.Minute
	// DefaultRearmPct is the price move, in percent of the last notified
	// price, required to notify again after the cooldown.
	DefaultRearmPct = 2
)

var hundred = decimal.NewFromInt(100)

// Policy holds the hysteresis parameters.
type Policy struct {
	Cooldown time.Duration
	RearmPct decimal.Decimal
}

// DefaultPolicy returns the 15 minute / 2% policy.
func DefaultPolicy() Policy {
	return Policy{Cooldown: DefaultCooldown, RearmPct: decimal.NewFromInt(DefaultRearmPct)}
}

// NewPolicy builds a policy from configuration values.
func NewPolicy(cooldown time.Duration, rearmPct float64) Policy {
	return Policy{Cooldown: cooldown, RearmPct: decimal.NewFromFloat(rearmPct)}
}

// Evaluate maps alerts, prices and previous states to decisions and state
// updates. Alerts are processed in input order; decisions and skips follow
// that order. Inactive alerts and alerts without a price are reported in
// Skipped and get no entry in Updates.
func (p Policy) Evaluate(alerts []Alert, prices map[string]decimal.Decimal, states map[string]State, now time.Time) Result {
	res := Result{Updates: make(map[string]State, len(alerts))}

	for _, alert := range alerts {
		if alert.Status != StatusActive {
			res.Skipped = append(res.Skipped, Skip{AlertID: alert.ID, Reason: SkipInactive})
			continue
		}

		price, ok := prices[alert.Symbol]
		if !ok {
			res.Skipped = append(res.Skipped, Skip{AlertID: alert.ID, Reason: SkipMissingPrice})
			continue
		}

		next, kind, notify := p.step(alert, price, states[alert.ID], now)
		res.Updates[alert.ID] = next
		if notify {
			res.Decisions = append(res.Decisions, Decision{
				AlertID:   alert.ID,
				Symbol:    alert.Symbol,
				Price:     price,
				Direction: alert.Direction,
				Threshold: alert.Threshold,
				Channel:   alert.Channel,
				Target:    alert.Target,
				Kind:      kind,
				At:        now,
			})
		}
	}

	return res
}

// step applies the edge/re-arm/reset rules to a single alert. A missing
// previous state is the zero State, i.e. condition not met.
func (p Policy) step(alert Alert, price decimal.Decimal, prev State, now time.Time) (State, DecisionKind, bool) {
	met := alert.ConditionMet(price)

	next := prev
	next.LastPrice = price
	next.LastConditionMet = met

	if !met {
		return next, "", false
	}

	if !prev.LastConditionMet {
		next.LastTriggeredAt = now
		next.LastNotifiedPrice = price
		next.LastNotifiedAt = now
		return next, KindCrossing, true
	}

	if p.rearmed(prev, price, now) {
		next.LastNotifiedPrice = price
		next.LastNotifiedAt = now
		return next, KindRearm, true
	}

	return next, "", false
}

func (p Policy) rearmed(prev State, price decimal.Decimal, now time.Time) bool {
	if now.Sub(prev.LastNotifiedAt) < p.Cooldown {
		return false
	}
	if prev.LastNotifiedPrice.IsZero() {
		return true
	}
	return MovePct(prev.LastNotifiedPrice, price).GreaterThanOrEqual(p.RearmPct)
}

// MovePct returns |price - from| / from in percent. from must be non-zero.
func MovePct(from, price decimal.Decimal) decimal.Decimal {
	return price.Sub(from).Abs().Div(from.Abs()).Mul(hundred)
}

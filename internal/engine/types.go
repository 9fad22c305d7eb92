package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of the threshold an alert watches.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Status is the lifecycle state of an alert definition.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusPaused
}

// Alert is a user-defined price alert. It is read-only to the engine.
type Alert struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Threshold decimal.Decimal `json:"threshold"`
	Status    Status          `json:"status"`
	Channel   string          `json:"channel"`
	Target    string          `json:"target"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ErrInvalidAlert wraps every alert validation failure.
var ErrInvalidAlert = errors.New("invalid alert")

// Validate checks the fields a stored alert must carry.
func (a Alert) Validate() error {
	switch {
	case strings.TrimSpace(a.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidAlert)
	case !a.Direction.Valid():
		return fmt.Errorf("%w: direction must be above or below", ErrInvalidAlert)
	case !a.Threshold.IsPositive():
		return fmt.Errorf("%w: threshold must be greater than zero", ErrInvalidAlert)
	case !a.Status.Valid():
		return fmt.Errorf("%w: status must be active or paused", ErrInvalidAlert)
	}
	return nil
}

// ConditionMet reports whether price is strictly past the threshold.
func (a Alert) ConditionMet(price decimal.Decimal) bool {
	if a.Direction == DirectionBelow {
		return price.LessThan(a.Threshold)
	}
	return price.GreaterThan(a.Threshold)
}

// State is the per-alert evaluation bookkeeping. Condition state
// (LastConditionMet, LastTriggeredAt) is kept apart from notification state
// (LastNotifiedPrice, LastNotifiedAt); a reset only touches the former.
type State struct {
	LastConditionMet  bool            `json:"last_condition_met"`
	LastPrice         decimal.Decimal `json:"last_price"`
	LastTriggeredAt   time.Time       `json:"last_triggered_at"`
	LastNotifiedPrice decimal.Decimal `json:"last_notified_price"`
	LastNotifiedAt    time.Time       `json:"last_notified_at"`
}

// Equal compares two states value-wise.
func (s State) Equal(o State) bool {
	return s.LastConditionMet == o.LastConditionMet &&
		s.LastPrice.Equal(o.LastPrice) &&
		s.LastTriggeredAt.Equal(o.LastTriggeredAt) &&
		s.LastNotifiedPrice.Equal(o.LastNotifiedPrice) &&
		s.LastNotifiedAt.Equal(o.LastNotifiedAt)
}

// DecisionKind distinguishes a first crossing from a re-armed repeat.
type DecisionKind string

const (
	KindCrossing DecisionKind = "crossing"
	KindRearm    DecisionKind = "rearm"
)

// Decision is a notification the engine wants sent. It is consumed once by
// the dispatcher and never persisted.
type Decision struct {
	AlertID   string
	Symbol    string
	Price     decimal.Decimal
	Direction Direction
	Threshold decimal.Decimal
	Channel   string
	Target    string
	Kind      DecisionKind
	At        time.Time
}

// SkipReason explains why an alert produced no state update.
type SkipReason string

const (
	SkipInactive     SkipReason = "inactive"
	SkipMissingPrice SkipReason = "missing-price"
)

// Skip records an alert left out of a cycle.
type Skip struct {
	AlertID string
	Reason  SkipReason
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Decisions []Decision
	Updates   map[string]State
	Skipped   []Skip
}

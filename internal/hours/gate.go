// Package hours decides whether upstream market-data calls are permitted.
package hours

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Window is an hour-granular daily window. StartHour > EndHour wraps midnight.
type Window struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Timezone  string
}

func (w Window) validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("start hour %d outside 0-23", w.StartHour)
	}
	if w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("end hour %d outside 0-23", w.EndHour)
	}
	return nil
}

// Contains reports whether hour falls in the window. Both bounds are inclusive.
func (w Window) Contains(hour int) bool {
	if w.StartHour > w.EndHour {
		return hour >= w.StartHour || hour <= w.EndHour
	}
	return hour >= w.StartHour && hour <= w.EndHour
}

// Open evaluates the window at now without logging. Disabled or malformed
// windows are always open.
func Open(w Window, now time.Time) bool {
	open, _ := evaluate(w, now)
	return open
}

func evaluate(w Window, now time.Time) (bool, error) {
	if !w.Enabled {
		return true, nil
	}
	if err := w.validate(); err != nil {
		return true, err
	}

	loc := time.UTC
	if w.Timezone != "" {
		l, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return true, fmt.Errorf("load timezone %q: %w", w.Timezone, err)
		}
		loc = l
	}

	return w.Contains(now.In(loc).Hour()), nil
}

// WindowSource yields the current window; it is consulted on every call so
// admin changes apply without restart.
type WindowSource func() Window

// Gate wraps Open with misconfiguration warnings, logged once per distinct
// window.
type Gate struct {
	source WindowSource
	logger zerolog.Logger

	mu     sync.Mutex
	warned map[Window]struct{}
}

// NewGate builds a Gate.
func NewGate(source WindowSource, logger zerolog.Logger) *Gate {
	return &Gate{
		source: source,
		logger: logger.With().Str("component", "operating_hours").Logger(),
		warned: make(map[Window]struct{}),
	}
}

// Open reports whether upstream calls are permitted at now.
func (g *Gate) Open(now time.Time) bool {
	w := g.source()
	open, err := evaluate(w, now)
	if err != nil {
		g.warnOnce(w, err)
	}
	return open
}

func (g *Gate) warnOnce(w Window, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.warned[w]; seen {
		return
	}
	g.warned[w] = struct{}{}
	g.logger.Warn().Err(err).
		Int("start_hour", w.StartHour).
		Int("end_hour", w.EndHour).
		Str("timezone", w.Timezone).
		Msg("operating hours misconfigured; upstream calls left open")
}

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"stock-price-alerts/internal/engine"
)

// ErrUnknownChannel is returned when no sender is registered for a channel.
var ErrUnknownChannel = errors.New("no sender for notification channel")

// Observer records delivery outcomes.
type Observer interface {
	NotificationSent(channel string, ok bool)
	BroadcastThrottled()
}

// Failure is a decision that could not be delivered.
type Failure struct {
	AlertID string
	Channel string
	Err     error
}

// Report summarises a DispatchAll call.
type Report struct {
	Sent   []string
	Failed []Failure
}

// Dispatcher routes messages to senders by channel name.
type Dispatcher struct {
	senders        map[string]Sender
	defaultChannel string
	concurrency    int
	observer       Observer
	logger         zerolog.Logger
}

// DispatcherOptions wire a Dispatcher.
type DispatcherOptions struct {
	Senders        map[string]Sender
	DefaultChannel string
	Concurrency    int
	Observer       Observer
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	senders := make(map[string]Sender, len(opts.Senders))
	for name, s := range opts.Senders {
		senders[strings.ToLower(name)] = s
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Dispatcher{
		senders:        senders,
		defaultChannel: strings.ToLower(opts.DefaultChannel),
		concurrency:    concurrency,
		observer:       observer,
		logger:         logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Channels lists the registered channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.senders))
	for name := range d.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers msg on channel. An empty channel selects the default.
func (d *Dispatcher) Send(ctx context.Context, channel string, msg Message) error {
	channel = d.resolve(channel)
	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return sender.Send(ctx, msg)
}

// DispatchAll delivers every decision concurrently. A failed delivery never
// affects the others; all outcomes are logged and reported.
func (d *Dispatcher) DispatchAll(ctx context.Context, decisions []engine.Decision) Report {
	var (
		mu     sync.Mutex
		report Report
	)

	p := pool.New().WithMaxGoroutines(d.concurrency)
	for _, decision := range decisions {
		p.Go(func() {
			channel := d.resolve(decision.Channel)
			err := d.Send(ctx, channel, DecisionMessage(decision))
			d.observer.NotificationSent(channel, err == nil)

			event := d.logger.Info()
			if err != nil {
				event = d.logger.Error().Err(err)
			}
			event.Str("alert_id", decision.AlertID).
				Str("symbol", decision.Symbol).
				Str("price", decision.Price.String()).
				Str("channel", channel).
				Str("kind", string(decision.Kind)).
				Msg(outcome(err))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{AlertID: decision.AlertID, Channel: channel, Err: err})
				return
			}
			report.Sent = append(report.Sent, decision.AlertID)
		})
	}
	p.Wait()

	sort.Strings(report.Sent)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].AlertID < report.Failed[j].AlertID })
	return report
}

func (d *Dispatcher) resolve(channel string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return d.defaultChannel
	}
	return channel
}

func outcome(err error) string {
	if err != nil {
		return "notification failed"
	}
	return "notification sent"
}

type noopObserver struct{}

func (noopObserver) NotificationSent(string, bool) {}
func (noopObserver) BroadcastThrottled()           {}

package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-price-alerts/internal/cache"
	"stock-price-alerts/internal/engine"
	"stock-price-alerts/internal/quote"
)

const (
	defaultQueueSize = 64
	markTimeout      = 2 * time.Second
)

// RecipientSource lists alerts watching a symbol.
type RecipientSource interface {
	ListBySymbol(ctx context.Context, symbol string) ([]engine.Alert, error)
}

// BroadcastOptions wire a Broadcaster.
type BroadcastOptions struct {
	Marks      cache.Store[bool]
	Throttle   time.Duration
	Recipients RecipientSource
	Dispatcher *Dispatcher
	Observer   Observer
	QueueSize  int
}

type broadcastTask struct {
	symbol string
	reason quote.StaleReason
}

// Broadcaster tells the owners of alerts on a symbol that cached data is being
// served. At most one broadcast per symbol is queued per throttle window.
type Broadcaster struct {
	opts   BroadcastOptions
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	claimed  map[string]struct{}
	queue    chan broadcastTask
	done     chan struct{}
	cancel   context.CancelFunc
	workerMu sync.Mutex
}

// NewBroadcaster constructs a Broadcaster. Start must be called before
// queued tasks are delivered.
func NewBroadcaster(opts BroadcastOptions, logger zerolog.Logger) *Broadcaster {
	if opts.Marks == nil {
		opts.Marks = cache.NewMemory[bool]()
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 5 * time.Minute
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	return &Broadcaster{
		opts:    opts,
		logger:  logger.With().Str("component", "failure_broadcast").Logger(),
		claimed: make(map[string]struct{}),
		queue:   make(chan broadcastTask, size),
		done:    make(chan struct{}),
	}
}

// Start runs the delivery worker until Close. The worker keeps the values of
// ctx but not its cancellation, so tasks queued before shutdown are still
// delivered while Close drains the queue.
func (b *Broadcaster) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.workerMu.Lock()
	b.cancel = cancel
	b.workerMu.Unlock()

	go func() {
		defer close(b.done)
		defer cancel()
		for task := range b.queue {
			if err := b.deliver(workerCtx, task); err != nil {
				b.logger.Error().Err(err).Str("symbol", task.symbol).Msg("failure broadcast aborted")
			}
		}
	}()
}

// Enqueue hands off a broadcast for symbol. It returns false when the
// symbol is throttled, the queue is full or the broadcaster is closed.
// The throttle mark is read and written outside the lock with a bounded
// timeout; a per-symbol claim keeps concurrent callers from both queueing.
func (b *Broadcaster) Enqueue(symbol string, reason quote.StaleReason) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if _, busy := b.claimed[symbol]; busy {
		b.mu.Unlock()
		b.opts.Observer.BroadcastThrottled()
		return false
	}
	b.claimed[symbol] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.claimed, symbol)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()

	if _, ok := b.opts.Marks.Get(ctx, symbol); ok {
		b.opts.Observer.BroadcastThrottled()
		return false
	}

	if !b.push(broadcastTask{symbol: symbol, reason: reason}) {
		return false
	}
	b.opts.Marks.Set(ctx, symbol, true, b.opts.Throttle)
	return true
}

func (b *Broadcaster) push(task broadcastTask) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- task:
		return true
	default:
		b.logger.Warn().Str("symbol", task.symbol).Msg("failure broadcast queue full, dropping")
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to drain. If ctx
// expires first the in-flight delivery is cancelled.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.workerMu.Lock()
		if b.cancel != nil {
			b.cancel()
		}
		b.workerMu.Unlock()
		return ctx.Err()
	}
}

func (b *Broadcaster) deliver(ctx context.Context, task broadcastTask) error {
	if b.opts.Recipients == nil || b.opts.Dispatcher == nil {
		return nil
	}

	alerts, err := b.opts.Recipients.ListBySymbol(ctx, task.symbol)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}

	type recipient struct{ channel, target string }
	seen := make(map[recipient]struct{})
	msg := Message{
		Title: task.symbol + " quotes delayed",
		Body:  fmt.Sprintf("Live prices for %s are temporarily unavailable; alerts are using the last known quote.", task.symbol),
		Data:  map[string]string{"symbol": task.symbol, "reason": string(task.reason)},
	}

	for _, alert := range alerts {
		if alert.Status != engine.StatusActive {
			continue
		}
		r := recipient{channel: b.opts.Dispatcher.resolve(alert.Channel), target: alert.Target}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}

		msg.Target = r.target
		err := b.opts.Dispatcher.Send(ctx, r.channel, msg)
		b.opts.Observer.NotificationSent(r.channel, err == nil)
		if err != nil {
			b.logger.Error().Err(err).Str("symbol", task.symbol).Str("channel", r.channel).Msg("failure broadcast not delivered")
			continue
		}
		b.logger.Info().Str("symbol", task.symbol).Str("channel", r.channel).
			Str("reason", string(task.reason)).Msg("failure broadcast sent")
	}
	return nil
}

var _ quote.FailureNotifier = (*Broadcaster)(nil)

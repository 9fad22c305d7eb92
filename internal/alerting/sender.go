package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"stock-price-alerts/internal/engine"
)

// Channel names understood by the dispatcher.
const (
	ChannelExpo     = "expo"
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

// ErrNoTarget is returned when a message has no recipient address.
var ErrNoTarget = errors.New("notification target is empty")

// Message is a channel-agnostic notification.
type Message struct {
	Target string
	Title  string
	Body   string
	Data   map[string]string
}

// Sender delivers a single message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	event := s.logger.Info().Str("target", msg.Target).Str("title", msg.Title)
	for k, v := range msg.Data {
		event = event.Str(k, v)
	}
	event.Msg(msg.Body)
	return nil
}

// DecisionMessage renders the notification for an engine decision.
func DecisionMessage(d engine.Decision) Message {
	price := d.Price.StringFixed(2)
	threshold := d.Threshold.StringFixed(2)

	title := fmt.Sprintf("%s %s %s", d.Symbol, d.Direction, threshold)

	builder := strings.Builder{}
	if d.Kind == engine.KindRearm {
		builder.WriteString(fmt.Sprintf("%s is still %s %s and has moved to %s.", d.Symbol, d.Direction, threshold, price))
	} else {
		builder.WriteString(fmt.Sprintf("%s crossed %s %s and is now trading at %s.", d.Symbol, d.Direction, threshold, price))
	}

	return Message{
		Target: d.Target,
		Title:  title,
		Body:   builder.String(),
		Data: map[string]string{
			"alert_id":  d.AlertID,
			"symbol":    d.Symbol,
			"price":     d.Price.String(),
			"direction": string(d.Direction),
			"threshold": d.Threshold.String(),
			"kind":      string(d.Kind),
		},
	}
}

var _ Sender = (*LogSender)(nil)

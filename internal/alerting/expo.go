package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const expoPushPath = "/push/send"

// ExpoSender delivers push notifications through the Expo push service. The
// message target is the device push token.
type ExpoSender struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      zerolog.Logger
}

// NewExpoSender constructs an Expo push sender.
func NewExpoSender(baseURL, accessToken string, timeout time.Duration, logger zerolog.Logger) *ExpoSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://exp.host/--/api/v2"
	}

	return &ExpoSender{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With().Str("component", "alert_expo").Logger(),
	}
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send posts a single push message and checks the returned ticket.
func (s *ExpoSender) Send(ctx context.Context, msg Message) error {
	if msg.Target == "" {
		return ErrNoTarget
	}

	body, err := json.Marshal([]expoMessage{{
		To:    msg.Target,
		Title: msg.Title,
		Body:  msg.Body,
		Data:  msg.Data,
		Sound: "default",
	}})
	if err != nil {
		return fmt.Errorf("marshal expo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+expoPushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send expo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("expo returned status %d", resp.StatusCode)
	}

	var result struct {
		Data []expoTicket `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode expo response: %w", err)
	}
	if len(result.Data) == 0 {
		return fmt.Errorf("expo returned no ticket")
	}
	if ticket := result.Data[0]; ticket.Status != "ok" {
		return fmt.Errorf("expo rejected push: %s", ticket.Message)
	}

	s.logger.Debug().Str("ticket", result.Data[0].ID).Msg("expo push accepted")
	return nil
}

var _ Sender = (*ExpoSender)(nil)

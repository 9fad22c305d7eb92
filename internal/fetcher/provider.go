package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	quotePath       = "/quote"
	maxErrorBodyLen = 256
)

// ProviderOptions parameterise the HTTP market-data provider.
type ProviderOptions struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	RateLimitPerMinute int
	UserAgent          string
}

// HTTPProvider fetches raw quote payloads over HTTP.
type HTTPProvider struct {
	opts    ProviderOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewHTTPProvider constructs a provider client.
func NewHTTPProvider(opts ProviderOptions, logger zerolog.Logger) *HTTPProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if opts.RateLimitPerMinute > 0 {
		limit = rate.Limit(float64(opts.RateLimitPerMinute) / 60)
		burst = max(1, opts.RateLimitPerMinute/10)
	}

	return &HTTPProvider{
		opts:    opts,
		logger:  logger.With().Str("component", "quote_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchQuote calls GET {base}/quote?symbol=S and returns the decoded body.
func (p *HTTPProvider) FetchQuote(ctx context.Context, symbol string) (map[string]any, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("provider base url not configured")
	}
	if !p.limiter.Allow() {
		return nil, ErrRateLimited
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	if p.opts.APIKey != "" {
		query.Set("token", p.opts.APIKey)
	}

	endpoint := p.baseURL + quotePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().Str("symbol", symbol).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("provider responded")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var body map[string]any
	if err := decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty object", ErrInvalidPayload)
	}

	return body, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return &APIError{Status: status, Body: apiErr.Error}
		}
		if apiErr.Message != "" {
			return &APIError{Status: status, Body: apiErr.Message}
		}
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return &APIError{Status: status, Body: body}
}

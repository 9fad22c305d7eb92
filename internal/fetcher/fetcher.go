package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"stock-price-alerts/internal/quote"
)

var (
	// ErrRateLimited means the local request budget is exhausted. The call is
	// not retried; the next poll will try again.
	ErrRateLimited = errors.New("provider request budget exhausted")
	// ErrInvalidPayload means the provider answered 2xx with an unusable body.
	ErrInvalidPayload = errors.New("provider returned invalid payload")
)

// APIError is a non-2xx provider response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider api error (%d): %s", e.Status, e.Body)
	}
	return fmt.Sprintf("provider api error (%d)", e.Status)
}

// Static serves a fixed payload, for simulations and tests.
type Static struct {
	Payload map[string]any
	Err     error
}

// FetchQuote returns the configured payload or error.
func (s *Static) FetchQuote(ctx context.Context, symbol string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Payload, nil
}

// Classify maps provider errors to the stale reason reported to clients.
func Classify(err error) quote.StaleReason {
	var apiErr *APIError
	var netErr net.Error
	switch {
	case err == nil:
		return quote.ReasonNone
	case errors.As(err, &apiErr), errors.Is(err, ErrRateLimited):
		return quote.ReasonProviderAPI
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, quote.ErrMalformedPayload):
		return quote.ReasonProviderInvalid
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		return quote.ReasonProviderNetwork
	default:
		// Transport failures that are not net.Error still come from the wire.
		if strings.Contains(err.Error(), "connection") {
			return quote.ReasonProviderNetwork
		}
		return quote.ReasonProviderAPI
	}
}

var (
	_ quote.Provider = (*Static)(nil)
	_ quote.Provider = (*HTTPProvider)(nil)
)

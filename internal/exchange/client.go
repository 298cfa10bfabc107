package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Failure kinds at the exchange boundary. Adapters wrap every error in
// exactly one of these so the ingestion loop can decide what to do with
// it via errors.Is.
var (
	ErrTransient   = errors.New("exchange: transient network failure")
	ErrRateLimited = errors.New("exchange: rate limited")
	ErrMalformed   = errors.New("exchange: malformed response")
	ErrAuth        = errors.New("exchange: authentication rejected")
)

// Ticker is one raw per-symbol record as an adapter received it. Numeric
// fields stay textual until the normalizer has validated them.
type Ticker struct {
	Symbol     string
	Price      string
	Volume     string
	MarketURL  string
	ObservedAt time.Time
}

// Client fetches the current tickers for one exchange.
type Client interface {
	Name() string
	FetchTickers(ctx context.Context) ([]Ticker, error)
}

// Retryable reports whether the error may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

func classifyStatus(status int, detail string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d: %s", ErrRateLimited, status, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", ErrAuth, status, detail)
	case status >= 500:
		return fmt.Errorf("%w: http %d: %s", ErrTransient, status, detail)
	default:
		return fmt.Errorf("%w: http %d: %s", ErrMalformed, status, detail)
	}
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	// Connection resets, refused connections, and DNS failures are all
	// worth another try next tick.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

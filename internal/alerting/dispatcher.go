package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"pairwatch/internal/logging"
)

// Dispatcher sends formatted alert batches in order with bounded,
// backed-off retries. Delivery is best effort: a batch whose retries are
// exhausted is dropped and counted, never re-queued.
type Dispatcher struct {
	notifier    Notifier
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
	logger      zerolog.Logger
}

// NewDispatcher builds a dispatcher around a notifier.
func NewDispatcher(notifier Notifier, maxAttempts int, logger zerolog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Dispatcher{
		notifier:    notifier,
		maxAttempts: maxAttempts,
		minDelay:    500 * time.Millisecond,
		maxDelay:    30 * time.Second,
		logger:      logging.Component(logger, "dispatcher"),
	}
}

// Dispatch delivers each batch in the order produced and returns how
// many were sent and how many were dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, batches []string) (sent, dropped int) {
	for i, batch := range batches {
		if err := d.sendWithRetry(ctx, batch); err != nil {
			dropped++
			d.logger.Error().Err(err).Int("batch", i).Msg("batch dropped after exhausting retries")
			continue
		}
		sent++
	}
	return sent, dropped
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, batch string) error {
	delay := &backoff.Backoff{
		Min:    d.minDelay,
		Max:    d.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = d.notifier.Notify(ctx, batch)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == d.maxAttempts {
			break
		}

		wait := delay.Duration()
		d.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", wait).Msg("delivery failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}

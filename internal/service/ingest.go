package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairwatch/internal/exchange"
	"pairwatch/internal/logging"
	"pairwatch/internal/storage"
)

// Ingestor polls every configured exchange once per tick, normalizes
// what came back, and writes the valid batch. Exchanges are fetched
// concurrently and fail independently: a hung or erroring exchange costs
// only its own rows.
type Ingestor struct {
	clients      []exchange.Client
	store        storage.ObservationStore
	fetchTimeout time.Duration
	storeTimeout time.Duration
	logger       zerolog.Logger
}

// NewIngestor constructs the ingestion loop body.
func NewIngestor(clients []exchange.Client, store storage.ObservationStore, fetchTimeout, storeTimeout time.Duration, logger zerolog.Logger) *Ingestor {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	if storeTimeout <= 0 {
		storeTimeout = 15 * time.Second
	}
	return &Ingestor{
		clients:      clients,
		store:        store,
		fetchTimeout: fetchTimeout,
		storeTimeout: storeTimeout,
		logger:       logging.Component(logger, "ingestor"),
	}
}

// Tick runs one ingestion cycle across all exchanges. Per-exchange
// failures are absorbed here, and shutdown mid-cycle is not an error.
func (s *Ingestor) Tick(ctx context.Context, _ time.Time) error {
	var wg sync.WaitGroup
	for _, client := range s.clients {
		wg.Add(1)
		go func(client exchange.Client) {
			defer wg.Done()
			s.ingestExchange(ctx, client)
		}(client)
	}
	wg.Wait()
	return nil
}

func (s *Ingestor) ingestExchange(ctx context.Context, client exchange.Client) {
	logger := s.logger.With().Str("exchange", client.Name()).Logger()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	tickers, err := client.FetchTickers(fetchCtx)
	if err != nil {
		event := logger.Warn()
		if !exchange.Retryable(err) {
			event = logger.Error()
		}
		event.Err(err).Msg("fetch failed; exchange skipped this cycle")
		return
	}

	observations := make([]storage.Observation, 0, len(tickers))
	skipped := 0
	for _, ticker := range tickers {
		obs, normErr := exchange.Normalize(client.Name(), ticker)
		if normErr != nil {
			skipped++
			logger.Debug().Err(normErr).Msg("malformed record skipped")
			continue
		}
		observations = append(observations, obs)
	}

	if len(observations) == 0 {
		logger.Warn().Int("malformed", skipped).Msg("no valid records this cycle")
		return
	}

	// The store gets its own deadline so a wedged query cannot pin the
	// tick (and with it the whole loop) forever.
	storeCtx, cancelStore := context.WithTimeout(ctx, s.storeTimeout)
	written, upsertErr := s.store.UpsertObservations(storeCtx, observations)
	cancelStore()
	if upsertErr != nil {
		if errors.Is(upsertErr, context.Canceled) {
			return
		}
		logger.Error().Err(upsertErr).Msg("store unavailable; cycle skipped")
		return
	}

	logger.Info().
		Int("fetched", len(tickers)).
		Int("malformed", skipped).
		Int64("written", written).
		Msg("ingestion cycle complete")
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pairwatch/internal/alerting"
	"pairwatch/internal/detector"
	"pairwatch/internal/logging"
	"pairwatch/internal/report"
	"pairwatch/internal/storage"
)

// Reporter runs one change-detection pass per tick: active pairs are
// compared against their baselines, qualifying moves are formatted, and
// the batches are handed to the dispatcher. Each tick works only from
// what the store holds at that moment.
type Reporter struct {
	store      storage.ObservationStore
	alertStore storage.AlertStore
	dispatcher *alerting.Dispatcher
	logger     zerolog.Logger

	threshold     decimal.Decimal
	interval      time.Duration
	maxMessageLen int
	storeTimeout  time.Duration
	locker        storage.AdvisoryLocker
	lockKey       int64
}

// ReporterOptions parameterise the reporting loop body.
type ReporterOptions struct {
	ThresholdPct  float64
	Interval      time.Duration
	MaxMessageLen int
	StoreTimeout  time.Duration
	LockKey       int64
}

// NewReporter constructs the reporting loop body. The dispatcher may be
// nil, in which case qualifying moves are computed and audited but not
// delivered.
func NewReporter(opts ReporterOptions, store storage.ObservationStore, alertStore storage.AlertStore, dispatcher *alerting.Dispatcher, logger zerolog.Logger) *Reporter {
	maxLen := opts.MaxMessageLen
	if maxLen <= 0 {
		maxLen = 4096
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 15 * time.Second
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Reporter{
		store:         store,
		alertStore:    alertStore,
		dispatcher:    dispatcher,
		logger:        logging.Component(logger, "reporter"),
		threshold:     decimal.NewFromFloat(opts.ThresholdPct),
		interval:      opts.Interval,
		maxMessageLen: maxLen,
		storeTimeout:  storeTimeout,
		locker:        locker,
		lockKey:       opts.LockKey,
	}
}

// Tick executes one reporting pass. All store access shares one bounded
// deadline; a wedged query fails the tick instead of hanging the loop.
func (r *Reporter) Tick(ctx context.Context, now time.Time) error {
	storeCtx, cancelStore := context.WithTimeout(ctx, r.storeTimeout)
	defer cancelStore()

	unlock, proceed, err := r.acquireLock(storeCtx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	events, err := r.collectEvents(storeCtx, now)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		r.logger.Debug().Msg("no qualifying moves this tick")
		return nil
	}

	r.audit(storeCtx, events)

	batches := report.FormatBatches(events, r.maxMessageLen)
	if r.dispatcher == nil {
		r.logger.Info().Int("events", len(events)).Msg("alerting disabled; qualifying moves not dispatched")
		return nil
	}

	sent, dropped := r.dispatcher.Dispatch(ctx, batches)
	r.logger.Info().
		Int("events", len(events)).
		Int("batches", len(batches)).
		Int("sent", sent).
		Int("dropped", dropped).
		Msg("reporting tick complete")
	return nil
}

// collectEvents walks every recently active pair and detects qualifying
// moves against each pair's baseline.
func (r *Reporter) collectEvents(ctx context.Context, now time.Time) ([]detector.ChangeEvent, error) {
	// Pairs that stopped being ingested two intervals ago have nothing
	// new to compare; skip them.
	since := now.Add(-2 * r.interval)
	pairs, err := r.store.ListActivePairs(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list active pairs: %w", err)
	}

	events := make([]detector.ChangeEvent, 0)
	for _, pair := range pairs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		latest, err := r.store.LatestObservation(ctx, pair.Exchange, pair.Symbol)
		if err != nil {
			return nil, fmt.Errorf("latest for %s/%s: %w", pair.Exchange, pair.Symbol, err)
		}
		if latest == nil {
			continue
		}

		baseline, err := r.store.BaselineObservation(ctx, pair.Exchange, pair.Symbol, latest.ObservedAt, r.interval)
		if err != nil {
			return nil, fmt.Errorf("baseline for %s/%s: %w", pair.Exchange, pair.Symbol, err)
		}

		if event, ok := detector.Detect(baseline, latest, r.threshold); ok {
			events = append(events, event)
		}
	}
	return events, nil
}

func (r *Reporter) audit(ctx context.Context, events []detector.ChangeEvent) {
	if r.alertStore == nil {
		return
	}
	for _, event := range events {
		record := storage.AlertRecord{
			Exchange:     event.Exchange,
			Symbol:       event.Symbol,
			BaselinePx:   event.BaselinePrice,
			LatestPx:     event.LatestPrice,
			PctChange:    event.PctChange,
			ThresholdPct: r.threshold,
			Direction:    event.Direction,
		}
		if _, err := r.alertStore.InsertAlert(ctx, record); err != nil {
			r.logger.Error().Err(err).Str("symbol", event.Symbol).Msg("failed to persist alert record")
		}
	}
}

func (r *Reporter) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

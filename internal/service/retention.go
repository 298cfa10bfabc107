package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pairwatch/internal/logging"
	"pairwatch/internal/storage"
)

// Retainer deletes observations once they age past the retention
// window. Deletion targets only rows older than anything ingestion still
// writes, so the two loops never contend for the same keys.
type Retainer struct {
	store        storage.ObservationStore
	alertStore   storage.AlertStore
	window       time.Duration
	storeTimeout time.Duration
	logger       zerolog.Logger
}

// NewRetainer constructs the retention loop body.
func NewRetainer(store storage.ObservationStore, alertStore storage.AlertStore, window, storeTimeout time.Duration, logger zerolog.Logger) *Retainer {
	if storeTimeout <= 0 {
		storeTimeout = 15 * time.Second
	}
	return &Retainer{
		store:        store,
		alertStore:   alertStore,
		window:       window,
		storeTimeout: storeTimeout,
		logger:       logging.Component(logger, "retainer"),
	}
}

// Tick performs one retention pass under a bounded store deadline.
func (r *Retainer) Tick(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-r.window)

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	deleted, err := r.store.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete old observations: %w", err)
	}

	var alertsDeleted int64
	if r.alertStore != nil {
		alertsDeleted, err = r.alertStore.DeleteAlertsBefore(ctx, cutoff)
		if err != nil {
			// Audit pruning is secondary; observations were already trimmed.
			r.logger.Error().Err(err).Msg("failed to prune alert audit rows")
		}
	}

	r.logger.Info().
		Time("cutoff", cutoff).
		Int64("observations_deleted", deleted).
		Int64("alerts_deleted", alertsDeleted).
		Msg("retention pass complete")
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pairwatch/internal/detector"
	"pairwatch/internal/report"
	"pairwatch/internal/storage"
)

// SimulateAlert pushes a synthetic baseline/latest pair through the
// detection and delivery pipeline to verify the alert channel end to end.
func (a *App) SimulateAlert(ctx context.Context, symbol string, baseline, latest decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	dispatcher := a.newDispatcher()
	if dispatcher == nil {
		return errors.New("no alert channel configured")
	}

	now := time.Now().UTC()
	baselineObs := &storage.Observation{
		Exchange:   "simulated",
		Symbol:     symbol,
		Price:      baseline,
		ObservedAt: now.Add(-a.Config.Reporting.Interval),
	}
	latestObs := &storage.Observation{
		Exchange:   "simulated",
		Symbol:     symbol,
		Price:      latest,
		ObservedAt: now,
	}

	threshold := decimal.NewFromFloat(a.Config.Reporting.ThresholdPct)
	event, ok := detector.Detect(baselineObs, latestObs, threshold)
	if !ok {
		return fmt.Errorf("change from %s to %s stays below the %s%% threshold; nothing to send",
			baseline.String(), latest.String(), threshold.String())
	}

	batches := report.FormatBatches([]detector.ChangeEvent{event}, a.Config.Reporting.MaxMessageLen)
	sent, dropped := dispatcher.Dispatch(ctx, batches)
	if dropped > 0 {
		return fmt.Errorf("delivery failed: %d of %d batches dropped", dropped, sent+dropped)
	}

	a.Logger.Info().Int("sent", sent).Str("symbol", symbol).Msg("simulated alert delivered")
	return nil
}

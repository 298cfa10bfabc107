package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairwatch/internal/alerting"
	"pairwatch/internal/storage"
)

type captureNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureNotifier) Notify(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func seedObservation(t *testing.T, store *memStore, symbol, price string, age time.Duration) {
	t.Helper()
	_, err := store.UpsertObservations(context.Background(), []storage.Observation{{
		Exchange:   "binance",
		Symbol:     symbol,
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.NewFromInt(1),
		ObservedAt: time.Now().UTC().Add(-age),
	}})
	require.NoError(t, err)
}

func newTestReporter(store *memStore, notifier alerting.Notifier) *Reporter {
	var dispatcher *alerting.Dispatcher
	if notifier != nil {
		dispatcher = alerting.NewDispatcher(notifier, 2, zerolog.Nop())
	}
	return NewReporter(ReporterOptions{
		ThresholdPct:  10.0,
		Interval:      10 * time.Minute,
		MaxMessageLen: 4096,
	}, store, store, dispatcher, zerolog.Nop())
}

func TestReportEndToEnd(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "BTCUSDT", "100", 2*time.Hour)
	seedObservation(t, store, "BTCUSDT", "121", 0)

	notifier := &captureNotifier{}
	reporter := newTestReporter(store, notifier)

	require.NoError(t, reporter.Tick(context.Background(), time.Now().UTC()))

	require.Len(t, notifier.messages, 1, "one dispatched batch expected")
	assert.Contains(t, notifier.messages[0], "BTCUSDT")
	assert.Contains(t, notifier.messages[0], "+21.00%")

	alerts, _ := store.ListRecentAlerts(context.Background(), 10)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].PctChange.Equal(decimal.RequireFromString("21")))
	assert.Equal(t, "up", alerts[0].Direction)
}

func TestReportColdStartSuppressed(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "NEWPAIR", "121", 0)

	notifier := &captureNotifier{}
	reporter := newTestReporter(store, notifier)

	require.NoError(t, reporter.Tick(context.Background(), time.Now().UTC()))
	assert.Empty(t, notifier.messages, "a pair without a baseline never alerts")
}

func TestReportBelowThresholdSilent(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "BTCUSDT", "100", 2*time.Hour)
	seedObservation(t, store, "BTCUSDT", "109.9", 0)

	notifier := &captureNotifier{}
	reporter := newTestReporter(store, notifier)

	require.NoError(t, reporter.Tick(context.Background(), time.Now().UTC()))
	assert.Empty(t, notifier.messages)
}

func TestReportExactlyAtThresholdAlerts(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "BTCUSDT", "100", 2*time.Hour)
	seedObservation(t, store, "BTCUSDT", "110", 0)

	notifier := &captureNotifier{}
	reporter := newTestReporter(store, notifier)

	require.NoError(t, reporter.Tick(context.Background(), time.Now().UTC()))
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "+10.00%")
}

func TestReportWithoutDispatcherStillAudits(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "BTCUSDT", "100", 2*time.Hour)
	seedObservation(t, store, "BTCUSDT", "121", 0)

	reporter := newTestReporter(store, nil)
	require.NoError(t, reporter.Tick(context.Background(), time.Now().UTC()))

	alerts, _ := store.ListRecentAlerts(context.Background(), 10)
	assert.Len(t, alerts, 1)
}

func TestRetentionDeletesOnlyExpiredRows(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "BTCUSDT", "100", time.Hour)
	seedObservation(t, store, "BTCUSDT", "101", 2*time.Hour)
	seedObservation(t, store, "BTCUSDT", "102", 4*time.Hour)

	retainer := NewRetainer(store, store, 3*time.Hour, time.Second, zerolog.Nop())
	require.NoError(t, retainer.Tick(context.Background(), time.Now().UTC()))

	count, _ := store.CountObservations(context.Background())
	assert.Equal(t, int64(2), count, "only the 4h-old row falls outside a 3h window")
}

// hangingDeleteStore simulates a wedged database on the delete path.
type hangingDeleteStore struct {
	*memStore
}

func (h *hangingDeleteStore) DeleteObservationsBefore(ctx context.Context, _ time.Time) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestRetentionWedgedStoreFailsTick(t *testing.T) {
	store := &hangingDeleteStore{memStore: newMemStore()}
	retainer := NewRetainer(store, store, 3*time.Hour, 50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	err := retainer.Tick(context.Background(), time.Now().UTC())
	require.Error(t, err, "a wedged delete fails the tick instead of hanging it")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetentionIdempotent(t *testing.T) {
	store := newMemStore()
	seedObservation(t, store, "BTCUSDT", "102", 4*time.Hour)

	retainer := NewRetainer(store, store, 3*time.Hour, time.Second, zerolog.Nop())
	require.NoError(t, retainer.Tick(context.Background(), time.Now().UTC()))
	require.NoError(t, retainer.Tick(context.Background(), time.Now().UTC()))

	count, _ := store.CountObservations(context.Background())
	assert.Equal(t, int64(0), count)
}

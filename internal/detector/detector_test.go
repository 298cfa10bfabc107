package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairwatch/internal/storage"
)

func obs(price string, age time.Duration) *storage.Observation {
	return &storage.Observation{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.NewFromInt(1),
		ObservedAt: time.Now().UTC().Add(-age),
	}
}

func TestDetectAtThresholdEmits(t *testing.T) {
	threshold := decimal.RequireFromString("10")

	event, ok := Detect(obs("100", 2*time.Hour), obs("110", 0), threshold)
	require.True(t, ok, "exactly-at-threshold move must emit")
	assert.True(t, event.PctChange.Equal(decimal.RequireFromString("10")), "pct change %s", event.PctChange)
	assert.Equal(t, "up", event.Direction)
}

func TestDetectBelowThresholdSilent(t *testing.T) {
	threshold := decimal.RequireFromString("10")

	_, ok := Detect(obs("100", 2*time.Hour), obs("109.9", 0), threshold)
	assert.False(t, ok, "9.9%% move must not emit at threshold 10")
}

func TestDetectDownMove(t *testing.T) {
	threshold := decimal.RequireFromString("10")

	event, ok := Detect(obs("100", 2*time.Hour), obs("85", 0), threshold)
	require.True(t, ok)
	assert.Equal(t, "down", event.Direction)
	assert.True(t, event.PctChange.Equal(decimal.RequireFromString("-15")))
}

func TestDetectColdPairSkipped(t *testing.T) {
	threshold := decimal.RequireFromString("10")

	_, ok := Detect(nil, obs("121", 0), threshold)
	assert.False(t, ok, "a pair without a baseline never produces an event")

	_, ok = Detect(obs("100", time.Hour), nil, threshold)
	assert.False(t, ok)
}

func TestDetectCarriesIdentity(t *testing.T) {
	baseline := obs("100", 2*time.Hour)
	latest := obs("121", 0)
	latest.MarketURL = "https://example.com/btc"

	event, ok := Detect(baseline, latest, decimal.RequireFromString("10"))
	require.True(t, ok)
	assert.Equal(t, "binance", event.Exchange)
	assert.Equal(t, "BTCUSDT", event.Symbol)
	assert.Equal(t, "https://example.com/btc", event.MarketURL)
	assert.True(t, event.PctChange.Equal(decimal.RequireFromString("21")))
}

package detector

import (
	"time"

	"github.com/shopspring/decimal"

	"pairwatch/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// ChangeEvent is a threshold-qualifying price move for one pair. It is
// computed per reporting tick and never persisted as-is.
type ChangeEvent struct {
	Exchange      string
	Symbol        string
	BaselinePrice decimal.Decimal
	LatestPrice   decimal.Decimal
	PctChange     decimal.Decimal
	Direction     string
	MarketURL     string
	ObservedAt    time.Time
}

// Detect compares the latest observation against its baseline and
// returns a ChangeEvent when the absolute percentage move is at or above
// the threshold. A missing baseline (cold pair) yields no event.
func Detect(baseline, latest *storage.Observation, threshold decimal.Decimal) (ChangeEvent, bool) {
	if baseline == nil || latest == nil {
		return ChangeEvent{}, false
	}
	if !baseline.Price.IsPositive() {
		return ChangeEvent{}, false
	}

	pct := latest.Price.Sub(baseline.Price).Div(baseline.Price).Mul(hundred)
	if pct.Abs().LessThan(threshold) {
		return ChangeEvent{}, false
	}

	return ChangeEvent{
		Exchange:      latest.Exchange,
		Symbol:        latest.Symbol,
		BaselinePrice: baseline.Price,
		LatestPrice:   latest.Price,
		PctChange:     pct,
		Direction:     classifyDirection(pct),
		MarketURL:     latest.MarketURL,
		ObservedAt:    latest.ObservedAt,
	}, true
}

func classifyDirection(pct decimal.Decimal) string {
	switch pct.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

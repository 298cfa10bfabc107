package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one exchange's reading of one trading pair at one
// instant. Rows are identified by (Exchange, Symbol, ObservedAt) and are
// never mutated after insert.
type Observation struct {
	Exchange   string
	Symbol     string
	Price      decimal.Decimal
	Volume     decimal.Decimal
	MarketURL  string
	ObservedAt time.Time
	CreatedAt  time.Time
}

// PairKey identifies a trading pair on one exchange.
type PairKey struct {
	Exchange string
	Symbol   string
}

// AlertRecord captures a dispatched change alert for auditing.
type AlertRecord struct {
	ID           int64
	Exchange     string
	Symbol       string
	BaselinePx   decimal.Decimal
	LatestPx     decimal.Decimal
	PctChange    decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	CreatedAt    time.Time
}

package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pairwatch/internal/storage"
)

// Normalize maps a raw ticker into a canonical observation. It fails with
// ErrMalformed when required fields are missing or non-numeric; a price
// of zero or below is rejected rather than silently stored.
func Normalize(exchangeName string, t Ticker) (storage.Observation, error) {
	if exchangeName == "" {
		return storage.Observation{}, fmt.Errorf("%w: empty exchange name", ErrMalformed)
	}
	if t.Symbol == "" {
		return storage.Observation{}, fmt.Errorf("%w: empty symbol", ErrMalformed)
	}
	if t.ObservedAt.IsZero() {
		return storage.Observation{}, fmt.Errorf("%w: %s missing observation timestamp", ErrMalformed, t.Symbol)
	}

	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return storage.Observation{}, fmt.Errorf("%w: %s price %q: %v", ErrMalformed, t.Symbol, t.Price, err)
	}
	if !price.IsPositive() {
		return storage.Observation{}, fmt.Errorf("%w: %s price %s not positive", ErrMalformed, t.Symbol, price)
	}

	volume := decimal.Zero
	if t.Volume != "" {
		volume, err = decimal.NewFromString(t.Volume)
		if err != nil {
			return storage.Observation{}, fmt.Errorf("%w: %s volume %q: %v", ErrMalformed, t.Symbol, t.Volume, err)
		}
		if volume.IsNegative() {
			return storage.Observation{}, fmt.Errorf("%w: %s volume %s negative", ErrMalformed, t.Symbol, volume)
		}
	}

	return storage.Observation{
		Exchange:   exchangeName,
		Symbol:     t.Symbol,
		Price:      price,
		Volume:     volume,
		MarketURL:  t.MarketURL,
		ObservedAt: t.ObservedAt.UTC(),
	}, nil
}

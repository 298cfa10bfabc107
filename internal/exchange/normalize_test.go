package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func validTicker() Ticker {
	return Ticker{
		Symbol:     "BTCUSDT",
		Price:      "64250.5",
		Volume:     "1234.75",
		MarketURL:  "https://example.com/btc",
		ObservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeValid(t *testing.T) {
	obs, err := Normalize("binance", validTicker())
	if err != nil {
		t.Fatalf("valid ticker should normalize: %v", err)
	}
	if obs.Exchange != "binance" || obs.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected identity: %+v", obs)
	}
	if !obs.Price.Equal(decimal.RequireFromString("64250.5")) {
		t.Fatalf("unexpected price: %s", obs.Price)
	}
	if !obs.Volume.Equal(decimal.RequireFromString("1234.75")) {
		t.Fatalf("unexpected volume: %s", obs.Volume)
	}
}

func TestNormalizeEmptyVolumeDefaultsToZero(t *testing.T) {
	ticker := validTicker()
	ticker.Volume = ""

	obs, err := Normalize("binance", ticker)
	if err != nil {
		t.Fatalf("empty volume should be accepted: %v", err)
	}
	if !obs.Volume.IsZero() {
		t.Fatalf("expected zero volume, got %s", obs.Volume)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	cases := map[string]func(*Ticker){
		"empty symbol":      func(tk *Ticker) { tk.Symbol = "" },
		"non-numeric price": func(tk *Ticker) { tk.Price = "n/a" },
		"zero price":        func(tk *Ticker) { tk.Price = "0" },
		"negative price":    func(tk *Ticker) { tk.Price = "-1.5" },
		"negative volume":   func(tk *Ticker) { tk.Volume = "-3" },
		"zero timestamp":    func(tk *Ticker) { tk.ObservedAt = time.Time{} },
	}

	for name, mutate := range cases {
		ticker := validTicker()
		mutate(&ticker)
		if _, err := Normalize("binance", ticker); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

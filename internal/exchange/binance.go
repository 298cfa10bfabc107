package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"

	"pairwatch/internal/logging"
)

const binanceName = "binance"

// Binance API error codes that matter for retry classification.
const (
	binanceCodeTooManyRequests = -1003
	binanceCodeBadAPIKey       = -2014
	binanceCodeAuthRejected    = -2015
)

// BinanceOptions parameterise the native Binance adapter.
type BinanceOptions struct {
	APIKey       string
	APISecret    string
	ParsingLimit int
}

// Binance fetches 24h ticker statistics through the official REST API.
type Binance struct {
	opts   BinanceOptions
	logger zerolog.Logger
	client *binance.Client
}

// NewBinance constructs a Binance client. Market data requires no key;
// credentials are only forwarded when configured.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	return &Binance{
		opts:   opts,
		logger: logging.Component(logger, "exchange_binance"),
		client: binance.NewClient(opts.APIKey, opts.APISecret),
	}
}

// Name returns the exchange identifier.
func (b *Binance) Name() string {
	return binanceName
}

// FetchTickers retrieves 24h price change statistics for all symbols,
// truncated to the configured parsing limit.
func (b *Binance) FetchTickers(ctx context.Context) ([]Ticker, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(err)
	}

	limit := b.opts.ParsingLimit
	if limit <= 0 || limit > len(stats) {
		limit = len(stats)
	}

	tickers := make([]Ticker, 0, limit)
	for _, s := range stats[:limit] {
		if s == nil {
			continue
		}
		observedAt := time.UnixMilli(s.CloseTime).UTC()
		tickers = append(tickers, Ticker{
			Symbol:     s.Symbol,
			Price:      s.LastPrice,
			Volume:     s.QuoteVolume,
			MarketURL:  "https://www.binance.com/en/trade/" + s.Symbol,
			ObservedAt: observedAt,
		})
	}

	b.logger.Debug().Int("tickers", len(tickers)).Msg("price change stats fetched")
	return tickers, nil
}

func classifyBinanceError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceCodeTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, apiErr)
		case binanceCodeBadAPIKey, binanceCodeAuthRejected:
			return fmt.Errorf("%w: %v", ErrAuth, apiErr)
		default:
			return fmt.Errorf("%w: %v", ErrMalformed, apiErr)
		}
	}
	return classifyTransport(err)
}

var _ Client = (*Binance)(nil)

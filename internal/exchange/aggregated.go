package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pairwatch/internal/logging"
)

const marketPairsPath = "/exchange/market-pairs/latest"

// AggregatedOptions parameterise the market-pairs fetcher.
type AggregatedOptions struct {
	Slug         string
	BaseURL      string
	ParsingLimit int
	Timeout      time.Duration
	UserAgent    string
}

// Aggregated polls the CoinMarketCap-style aggregated market-pairs
// endpoint for one exchange slug.
type Aggregated struct {
	opts     AggregatedOptions
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
	archiver *Archiver
}

// NewAggregated constructs an aggregated market-pairs client.
func NewAggregated(opts AggregatedOptions, archiver *Archiver, logger zerolog.Logger) *Aggregated {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinmarketcap.com/data-api/v3"
	}

	return &Aggregated{
		opts:     opts,
		logger:   logging.Component(logger, "exchange_"+opts.Slug),
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		archiver: archiver,
	}
}

// Name returns the exchange identifier.
func (a *Aggregated) Name() string {
	return a.opts.Slug
}

// FetchTickers retrieves the spot market pairs for the configured slug.
func (a *Aggregated) FetchTickers(ctx context.Context) ([]Ticker, error) {
	limit := a.opts.ParsingLimit
	if limit <= 0 {
		limit = 100
	}

	endpoint := fmt.Sprintf("%s%s?slug=%s&category=spot&start=1&limit=%d", a.baseURL, marketPairsPath, a.opts.Slug, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrMalformed, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pairwatch/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	// Verbatim copy of the response, off the hot path.
	go a.archiver.Store(a.opts.Slug, payload)

	var parsed marketPairsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode market pairs: %v", ErrMalformed, err)
	}

	observedAt := parsed.Status.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	tickers := make([]Ticker, 0, len(parsed.Data.MarketPairs))
	for _, pair := range parsed.Data.MarketPairs {
		tickers = append(tickers, Ticker{
			Symbol:     pair.MarketPair,
			Price:      pair.Price.String(),
			Volume:     pair.VolumeUsd.String(),
			MarketURL:  pair.MarketURL,
			ObservedAt: observedAt,
		})
	}

	a.logger.Debug().Int("tickers", len(tickers)).Msg("market pairs fetched")
	return tickers, nil
}

type marketPairsResponse struct {
	Data struct {
		MarketPairs []struct {
			MarketPair string      `json:"marketPair"`
			Price      json.Number `json:"price"`
			VolumeUsd  json.Number `json:"volumeUsd"`
			MarketURL  string      `json:"marketUrl"`
		} `json:"marketPairs"`
	} `json:"data"`
	Status struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"status"`
}

var _ Client = (*Aggregated)(nil)

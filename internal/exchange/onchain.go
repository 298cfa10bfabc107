package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pairwatch/internal/logging"
)

const onchainName = "onchain"

const aggregatorABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// OnchainOptions parameterise the on-chain price feed adapter. Feeds maps
// a symbol (e.g. "ETHUSD") to a Chainlink-compatible aggregator address.
type OnchainOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Onchain reads prices from aggregator contracts over Ethereum RPC.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds an on-chain feed client.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{opts: opts, logger: logging.Component(logger, "exchange_onchain")}
}

// Name returns the exchange identifier.
func (o *Onchain) Name() string {
	return onchainName
}

// FetchTickers reads every configured feed. A single feed failure is
// logged and skipped; the call fails only when no feed produced a price.
func (o *Onchain) FetchTickers(ctx context.Context) ([]Ticker, error) {
	if o.opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: ethereum rpc url not configured", ErrAuth)
	}
	if len(o.opts.Feeds) == 0 {
		return nil, fmt.Errorf("%w: no price feeds configured", ErrMalformed)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, classifyTransport(err)
	}

	tickers := make([]Ticker, 0, len(o.opts.Feeds))
	var lastErr error
	for symbol, address := range o.opts.Feeds {
		ticker, feedErr := o.readFeed(ctx, client, symbol, address)
		if feedErr != nil {
			lastErr = feedErr
			o.logger.Warn().Err(feedErr).Str("symbol", symbol).Msg("feed read failed")
			continue
		}
		tickers = append(tickers, ticker)
	}

	if len(tickers) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return tickers, nil
}

func (o *Onchain) readFeed(ctx context.Context, client *ethclient.Client, symbol, address string) (Ticker, error) {
	addr := common.HexToAddress(address)

	feedDecimals, err := o.callUint8(ctx, client, addr, "decimals")
	if err != nil {
		return Ticker{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Ticker{}, fmt.Errorf("%w: pack latestRoundData: %v", ErrMalformed, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Ticker{}, classifyTransport(err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Ticker{}, fmt.Errorf("%w: unpack latestRoundData: %v", ErrMalformed, err)
	}
	if len(outputs) != 5 {
		return Ticker{}, fmt.Errorf("%w: unexpected latestRoundData arity %d", ErrMalformed, len(outputs))
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Ticker{}, fmt.Errorf("%w: latestRoundData answer not an integer", ErrMalformed)
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Ticker{}, fmt.Errorf("%w: latestRoundData updatedAt not an integer", ErrMalformed)
	}

	price := decimal.NewFromBigInt(answer, -int32(feedDecimals))

	return Ticker{
		Symbol:     symbol,
		Price:      price.String(),
		Volume:     "0",
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (o *Onchain) callUint8(ctx context.Context, client *ethclient.Client, addr common.Address, method string) (uint8, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return 0, fmt.Errorf("%w: pack %s: %v", ErrMalformed, method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, classifyTransport(err)
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return 0, fmt.Errorf("%w: unpack %s: %v", ErrMalformed, method, err)
	}
	if len(outputs) != 1 {
		return 0, fmt.Errorf("%w: unexpected %s response", ErrMalformed, method)
	}

	value, ok := outputs[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: %s output not a uint8", ErrMalformed, method)
	}
	return value, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Client = (*Onchain)(nil)

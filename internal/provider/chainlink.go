package provider

import (
	"context"
	"errors"
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
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the feed-backed provider.
type ChainlinkOptions struct {
	RPCURL      string
	NAVFeed     string
	ReserveFeed string
	MaxAge      time.Duration
	Timeout     time.Duration
}

// Chainlink reads NAV and reserve from two AggregatorV3 feeds and rescales
// both answers to 18 decimals.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	now       func() time.Time
}

// NewChainlink builds a feed-backed provider.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:   opts,
		logger: logger.With().Str("component", "chainlink_provider").Logger(),
		now:    time.Now,
	}
}

// FetchLatest reads both feeds. The pool/asset pair is fixed by the feed
// addresses and only used for logging.
func (c *Chainlink) FetchLatest(ctx context.Context, poolID, assetID common.Hash) (*big.Int, *big.Int, error) {
	if c.opts.RPCURL == "" {
		return nil, nil, errors.New("provider rpc url not configured")
	}
	if c.opts.NAVFeed == "" || c.opts.ReserveFeed == "" {
		return nil, nil, errors.New("nav and reserve feed addresses required")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	nav, err := c.readFeed(ctx, client, common.HexToAddress(c.opts.NAVFeed))
	if err != nil {
		return nil, nil, fmt.Errorf("read nav feed: %w", err)
	}
	reserve, err := c.readFeed(ctx, client, common.HexToAddress(c.opts.ReserveFeed))
	if err != nil {
		return nil, nil, fmt.Errorf("read reserve feed: %w", err)
	}

	c.logger.Debug().
		Str("pool_id", poolID.Hex()).
		Str("asset_id", assetID.Hex()).
		Str("nav", nav.String()).
		Str("reserve", reserve.String()).
		Msg("feed values fetched")

	return nav, reserve, nil
}

func (c *Chainlink) readFeed(ctx context.Context, client *ethclient.Client, feed common.Address) (*big.Int, error) {
	decOut, err := c.call(ctx, client, feed, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return nil, errors.New("failed to decode decimals output")
	}

	roundOut, err := c.call(ctx, client, feed, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(roundOut) != 5 {
		return nil, errors.New("unexpected latestRoundData response")
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := roundOut[3].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode latestRoundData updatedAt")
	}

	return normalizeAnswer(answer, decimals, updatedAt, c.opts.MaxAge, c.now())
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, feed common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	outputs, err := aggregatorV3ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty %s response", method)
	}
	return outputs, nil
}

// normalizeAnswer rescales a feed answer with the given decimals to 18
// decimals and rejects negative or stale answers.
func normalizeAnswer(answer *big.Int, decimals uint8, updatedAt *big.Int, maxAge time.Duration, now time.Time) (*big.Int, error) {
	if answer.Sign() < 0 {
		return nil, fmt.Errorf("feed answer negative: %s", answer)
	}
	if maxAge > 0 && updatedAt.IsInt64() {
		age := now.Sub(time.Unix(updatedAt.Int64(), 0))
		if age > maxAge {
			return nil, fmt.Errorf("feed answer stale: updated %s ago", age.Truncate(time.Second))
		}
	}

	out := new(big.Int).Set(answer)
	switch {
	case decimals < 18:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil))
	case decimals > 18:
		out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil))
	}
	return out, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Provider = (*Chainlink)(nil)

package chain

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
	"github.com/holiman/uint256"
)

const totalSupplyABIJSON = `[{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var totalSupplyABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(totalSupplyABIJSON))
	if err != nil {
		panic("failed to parse totalSupply ABI: " + err.Error())
	}
	totalSupplyABI = parsed
}

// Caller is the read-only contract call surface.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenSupply reads the share token's totalSupply from the vault contract.
type TokenSupply struct {
	rpcURL  string
	token   common.Address
	timeout time.Duration

	mu     sync.Mutex
	caller Caller
}

// NewTokenSupply builds a supply reader. caller may be nil, in which case
// rpcURL is dialled on first use.
func NewTokenSupply(rpcURL string, token common.Address, timeout time.Duration, caller Caller) *TokenSupply {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenSupply{rpcURL: rpcURL, token: token, timeout: timeout, caller: caller}
}

// TotalShares implements vault.SupplySource.
func (t *TokenSupply) TotalShares(ctx context.Context) (*uint256.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	caller, err := t.getCaller(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := totalSupplyABI.Pack("totalSupply")
	if err != nil {
		return nil, err
	}
	token := t.token
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call totalSupply: %w", err)
	}
	out, err := totalSupplyABI.Unpack("totalSupply", res)
	if err != nil {
		return nil, fmt.Errorf("decode totalSupply: %w", err)
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected totalSupply output")
	}
	v, overflow := uint256.FromBig(supply)
	if overflow {
		return nil, errors.New("totalSupply exceeds 256 bits")
	}
	return v, nil
}

func (t *TokenSupply) getCaller(ctx context.Context) (Caller, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.caller != nil {
		return t.caller, nil
	}
	if t.rpcURL == "" {
		return nil, errors.New("supply rpc url not configured")
	}
	client, err := ethclient.DialContext(ctx, t.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.rpcURL, err)
	}
	t.caller = client
	return client, nil
}

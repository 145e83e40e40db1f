package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"aura-oracle/internal/workflow"
)

const coordinatorABIJSON = `[
{"inputs":[{"internalType":"bytes","name":"encodedPayload","type":"bytes"},{"internalType":"bytes","name":"attestation","type":"bytes"}],"name":"submitReport","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var coordinatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(coordinatorABIJSON))
	if err != nil {
		panic("failed to parse coordinator ABI: " + err.Error())
	}
	coordinatorABI = parsed
}

// Backend is the subset of ethclient.Client the ledger needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// DialFunc opens a backend for an RPC URL.
type DialFunc func(ctx context.Context, rpcURL string) (Backend, error)

// Options configure an EVMLedger.
type Options struct {
	// PrivateKey is the hex-encoded transactor key.
	PrivateKey   string
	PollInterval time.Duration
	// Timeout bounds the wait for a receipt. Zero waits until ctx is done.
	Timeout time.Duration
	Dial    DialFunc
}

// EVMLedger sends attested reports to the coordinator contract as
// dynamic-fee transactions and waits for the receipt.
type EVMLedger struct {
	opts   Options
	key    *ecdsa.PrivateKey
	from   common.Address
	logger zerolog.Logger

	mu       sync.Mutex
	backends map[string]Backend
	// send serializes nonce allocation.
	send sync.Mutex
}

// NewEVMLedger parses the transactor key.
func NewEVMLedger(opts Options, logger zerolog.Logger) (*EVMLedger, error) {
	if strings.TrimSpace(opts.PrivateKey) == "" {
		return nil, errors.New("transactor private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse transactor key: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, rpcURL string) (Backend, error) {
			return ethclient.DialContext(ctx, rpcURL)
		}
	}
	return &EVMLedger{
		opts:     opts,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		logger:   logger.With().Str("component", "evm_ledger").Logger(),
		backends: make(map[string]Backend),
	}, nil
}

// From returns the transactor address.
func (l *EVMLedger) From() common.Address {
	return l.from
}

// WriteReport implements workflow.Ledger. Errors before the transaction is
// accepted by the node are returned; once sent, the outcome is reported
// through the result status.
func (l *EVMLedger) WriteReport(ctx context.Context, req workflow.WriteRequest) (workflow.WriteResult, error) {
	if req.Network.RPCURL == "" {
		return workflow.WriteResult{}, fmt.Errorf("%w: no rpc url for network %s", workflow.ErrConfiguration, req.Network.Name)
	}
	if req.Receiver == (common.Address{}) {
		return workflow.WriteResult{}, fmt.Errorf("%w: receiver address not configured", workflow.ErrConfiguration)
	}

	backend, err := l.backend(ctx, req.Network.RPCURL)
	if err != nil {
		return workflow.WriteResult{}, err
	}

	data, err := coordinatorABI.Pack("submitReport", req.Report, req.Signature)
	if err != nil {
		return workflow.WriteResult{}, fmt.Errorf("pack submitReport: %w", err)
	}

	tx, err := l.sendTx(ctx, backend, req, data)
	if err != nil {
		return workflow.WriteResult{}, err
	}

	log := l.logger.With().Str("tx_hash", tx.Hash().Hex()).Str("network", req.Network.Name).Logger()
	log.Info().Uint64("nonce", tx.Nonce()).Uint64("gas", tx.Gas()).Msg("transaction sent")

	receipt, err := l.waitReceipt(ctx, backend, tx.Hash())
	if err != nil {
		return workflow.WriteResult{Status: workflow.StatusFatal, TxHash: tx.Hash(), ErrorMessage: err.Error()}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Warn().Uint64("block", receipt.BlockNumber.Uint64()).Msg("transaction reverted")
		return workflow.WriteResult{
			Status:       workflow.StatusReverted,
			TxHash:       receipt.TxHash,
			ErrorMessage: fmt.Sprintf("transaction reverted in block %d", receipt.BlockNumber.Uint64()),
		}, nil
	}

	log.Info().Uint64("block", receipt.BlockNumber.Uint64()).Uint64("gas_used", receipt.GasUsed).Msg("transaction mined")
	return workflow.WriteResult{Status: workflow.StatusSuccess, TxHash: receipt.TxHash}, nil
}

func (l *EVMLedger) sendTx(ctx context.Context, backend Backend, req workflow.WriteRequest, data []byte) (*types.Transaction, error) {
	l.send.Lock()
	defer l.send.Unlock()

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if req.Network.ChainID != 0 && chainID.Uint64() != req.Network.ChainID {
		return nil, fmt.Errorf("%w: rpc reports chain %s, network %s expects %d", workflow.ErrConfiguration, chainID, req.Network.Name, req.Network.ChainID)
	}

	nonce, err := backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("query nonce: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("query head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	receiver := req.Receiver
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       req.GasLimit,
		To:        &receiver,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	return signed, nil
}

func (l *EVMLedger) waitReceipt(ctx context.Context, backend Backend, hash common.Hash) (*types.Receipt, error) {
	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			l.logger.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("receipt query failed")
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for receipt: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *EVMLedger) backend(ctx context.Context, rpcURL string) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.backends[rpcURL]; ok {
		return b, nil
	}
	b, err := l.opts.Dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	l.backends[rpcURL] = b
	return b, nil
}

var _ workflow.Ledger = (*EVMLedger)(nil)

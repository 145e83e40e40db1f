package workflow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"aura-oracle/internal/report"
)

// ReportSink is the coordinator's push entry point.
type ReportSink interface {
	SubmitReport(ctx context.Context, caller common.Address, encoded, attestation []byte) (report.ReserveReport, error)
}

// LocalLedger delivers reports to an in-process coordinator as a fixed caller.
// A rejected report finalizes as reverted with the coordinator's error as
// message, mirroring an on-chain revert.
type LocalLedger struct {
	sink   ReportSink
	caller common.Address
	logger zerolog.Logger
}

// NewLocalLedger wraps sink.
func NewLocalLedger(sink ReportSink, caller common.Address, logger zerolog.Logger) *LocalLedger {
	return &LocalLedger{
		sink:   sink,
		caller: caller,
		logger: logger.With().Str("component", "local_ledger").Logger(),
	}
}

// WriteReport implements Ledger. The returned hash is keccak256 over the
// report and signature, standing in for a transaction hash.
func (l *LocalLedger) WriteReport(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	txHash := crypto.Keccak256Hash(req.Report, req.Signature)
	if _, err := l.sink.SubmitReport(ctx, l.caller, req.Report, req.Signature); err != nil {
		l.logger.Debug().Err(err).Str("tx_hash", txHash.Hex()).Msg("report reverted")
		return WriteResult{Status: StatusReverted, TxHash: txHash, ErrorMessage: err.Error()}, nil
	}
	return WriteResult{Status: StatusSuccess, TxHash: txHash}, nil
}

var _ Ledger = (*LocalLedger)(nil)

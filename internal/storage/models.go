package storage

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"aura-oracle/internal/report"
)

// SubmissionRecord is one journaled workflow submission.
type SubmissionRecord struct {
	ID              int64
	ReportID        common.Hash
	PoolID          common.Hash
	AssetID         common.Hash
	NAV             *big.Int
	Reserve         *big.Int
	ReportTimestamp uint64
	Network         string
	Receiver        string
	TxHash          common.Hash
	Status          string
	Error           *string
	SubmittedAt     time.Time
	CreatedAt       time.Time
}

// NAVDecimal renders NAV at its 18-decimal scale.
func (r SubmissionRecord) NAVDecimal() decimal.Decimal {
	return report.ToDecimal(r.NAV)
}

// ReserveDecimal renders the reserve at its 18-decimal scale.
func (r SubmissionRecord) ReserveDecimal() decimal.Decimal {
	return report.ToDecimal(r.Reserve)
}

// OracleRow is a stored NAV or PoR record with its provenance.
type OracleRow struct {
	Key       common.Hash
	Value     *big.Int
	Timestamp uint64
	ReportID  common.Hash
	Source    string
	UpdatedAt time.Time
}

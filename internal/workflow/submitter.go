package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"aura-oracle/internal/report"
)

// TxStatus is the finalization status reported by a ledger.
type TxStatus string

const (
	StatusSuccess  TxStatus = "success"
	StatusReverted TxStatus = "reverted"
	StatusFatal    TxStatus = "fatal"
)

// WriteRequest is one attested report bound for the coordinator entry point.
type WriteRequest struct {
	Network   Network
	Receiver  common.Address
	Report    []byte
	Signature []byte
	GasLimit  uint64
}

// WriteResult is what the ledger reports once the write finalized. TxHash
// may be zero when the ledger does not expose one.
type WriteResult struct {
	Status       TxStatus
	TxHash       common.Hash
	ErrorMessage string
}

// Ledger performs one blocking, finalized write.
type Ledger interface {
	WriteReport(ctx context.Context, req WriteRequest) (WriteResult, error)
}

// SubmissionError is returned when a write finalized with a non-success status.
type SubmissionError struct {
	Status  TxStatus
	Message string
	TxHash  common.Hash
}

func (e *SubmissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("writeReport failed: %s", e.Message)
	}
	return fmt.Sprintf("writeReport failed: %s", e.Status)
}

// Submission is the journal entry of one Submit call that reached the ledger.
type Submission struct {
	Report      report.ReserveReport
	Network     string
	Receiver    common.Address
	TxHash      common.Hash
	Status      TxStatus
	Error       string
	SubmittedAt time.Time
}

// Journal records submissions. Recording failures never fail a submission.
type Journal interface {
	RecordSubmission(ctx context.Context, s Submission) error
}

// Config is the static workflow configuration.
type Config struct {
	ChainSelectorName string
	Receiver          common.Address
	PoolID            common.Hash
	AssetID           common.Hash
	GasLimit          uint64
	ReportIDScheme    string
}

// Submitter builds, attests and writes reports.
type Submitter struct {
	cfg      Config
	networks *Networks
	attestor *report.Attestor
	ledger   Ledger
	journal  Journal
	reportID func(report.ReserveReport) (common.Hash, error)
	now      func() time.Time
	logger   zerolog.Logger
}

// Option customises a Submitter.
type Option func(*Submitter)

// WithJournal records every ledger outcome.
func WithJournal(j Journal) Option {
	return func(s *Submitter) { s.journal = j }
}

// WithClock overrides the wall clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// NewSubmitter validates the static configuration.
func NewSubmitter(cfg Config, networks *Networks, attestor *report.Attestor, ledger Ledger, logger zerolog.Logger, opts ...Option) (*Submitter, error) {
	if networks == nil {
		networks = NewNetworks(nil)
	}
	if attestor == nil {
		return nil, fmt.Errorf("%w: attestor is required", ErrConfiguration)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger is required", ErrConfiguration)
	}
	idFn, err := report.ReportIDFunc(cfg.ReportIDScheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	s := &Submitter{
		cfg:      cfg,
		networks: networks,
		attestor: attestor,
		ledger:   ledger,
		reportID: idFn,
		now:      time.Now,
		logger:   logger.With().Str("component", "workflow").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit runs one trigger invocation: parse, resolve network, build and
// encode the report, attest it, write it and wait for finalization. It
// returns the transaction hash, or the zero hash when the ledger omits it.
// There is no retry; every failure is returned to the caller.
func (s *Submitter) Submit(ctx context.Context, raw []byte) (common.Hash, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		return common.Hash{}, err
	}

	network, err := s.networks.Resolve(s.cfg.ChainSelectorName)
	if err != nil {
		return common.Hash{}, err
	}

	r, err := s.build(payload)
	if err != nil {
		return common.Hash{}, err
	}
	encoded, err := report.Encode(r)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	sig, err := s.attestor.Attest(encoded)
	if err != nil {
		return common.Hash{}, fmt.Errorf("attest report: %w", err)
	}

	log := s.logger.With().
		Str("network", network.Name).
		Str("report_id", r.ReportID.Hex()).
		Uint64("timestamp", r.Timestamp).
		Logger()
	log.Info().Str("nav", report.FormatScaled(r.NAV)).Str("reserve", report.FormatScaled(r.Reserve)).Msg("submitting report")

	res, err := s.ledger.WriteReport(ctx, WriteRequest{
		Network:   network,
		Receiver:  s.cfg.Receiver,
		Report:    encoded,
		Signature: sig,
		GasLimit:  s.cfg.GasLimit,
	})
	if err != nil {
		s.record(ctx, Submission{Report: r, Network: network.Name, Receiver: s.cfg.Receiver, Status: StatusFatal, Error: err.Error()})
		return common.Hash{}, fmt.Errorf("write report: %w", err)
	}

	entry := Submission{Report: r, Network: network.Name, Receiver: s.cfg.Receiver, TxHash: res.TxHash, Status: res.Status, Error: res.ErrorMessage}
	s.record(ctx, entry)

	if res.Status != StatusSuccess {
		return common.Hash{}, &SubmissionError{Status: res.Status, Message: res.ErrorMessage, TxHash: res.TxHash}
	}
	log.Info().Str("tx_hash", res.TxHash.Hex()).Msg("report finalized")
	return res.TxHash, nil
}

func (s *Submitter) build(p TriggerPayload) (report.ReserveReport, error) {
	r := report.ReserveReport{
		PoolID:  s.cfg.PoolID,
		AssetID: s.cfg.AssetID,
		NAV:     p.NAV,
		Reserve: p.Reserve,
	}
	if p.PoolID != nil {
		r.PoolID = *p.PoolID
	}
	if p.AssetID != nil {
		r.AssetID = *p.AssetID
	}
	if p.Timestamp != nil {
		r.Timestamp = *p.Timestamp
	} else {
		r.Timestamp = uint64(s.now().Unix())
	}
	id, err := s.reportID(r)
	if err != nil {
		return report.ReserveReport{}, fmt.Errorf("derive report id: %w", err)
	}
	r.ReportID = id
	return r, nil
}

func (s *Submitter) record(ctx context.Context, entry Submission) {
	if s.journal == nil {
		return
	}
	entry.SubmittedAt = s.now().UTC()
	if err := s.journal.RecordSubmission(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("report_id", entry.Report.ReportID.Hex()).Msg("failed to journal submission")
	}
}

// IsSubmissionError reports whether err carries a ledger failure status.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}

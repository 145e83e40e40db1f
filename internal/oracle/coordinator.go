package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"aura-oracle/internal/access"
	"aura-oracle/internal/provider"
	"aura-oracle/internal/report"
)

var (
	// ErrMalformedPayload indicates a pushed report that does not decode
	// against the canonical layout.
	ErrMalformedPayload = errors.New("oracle: malformed payload")
	// ErrUnauthorized indicates a caller without the required capability.
	ErrUnauthorized = access.ErrUnauthorized
	// ErrIdentifierMismatch indicates a report for a pool or asset this
	// coordinator is not configured for.
	ErrIdentifierMismatch = errors.New("oracle: identifier mismatch")
	// ErrInvalidAttestation indicates a report not signed by a trusted attestor.
	ErrInvalidAttestation = errors.New("oracle: invalid attestation")
	// ErrStaleReport indicates a report older than the stored record.
	ErrStaleReport = errors.New("oracle: stale report")
)

// Report sources recorded on acceptance.
const (
	SourcePush      = "push"
	SourceScheduled = "scheduled"
)

// Acceptance describes an accepted report.
type Acceptance struct {
	Report report.ReserveReport
	Source string
	Caller common.Address
}

// Listener observes accepted reports after they are committed.
type Listener interface {
	ReportAccepted(ctx context.Context, a Acceptance)
}

// Config wires a Coordinator. Registry, Provider and ACL are required.
type Config struct {
	Registry Registry
	Provider provider.Provider
	ACL      *access.ACL
	PoolID   common.Hash
	AssetID  common.Hash

	// TrustedAttestors, when non-empty, restricts pushed reports to those
	// signed by one of these addresses.
	TrustedAttestors []common.Address
	// RejectStale refuses reports older than the stored record instead of
	// overwriting it.
	RejectStale bool

	Listener Listener
	Now      func() time.Time
}

// Coordinator validates incoming reports and applies them to the NAV and
// PoR stores. All transitions are serialized.
type Coordinator struct {
	cfg     Config
	trusted map[common.Address]struct{}
	logger  zerolog.Logger

	mu sync.Mutex
}

// NewCoordinator validates cfg and builds a Coordinator.
func NewCoordinator(cfg Config, logger zerolog.Logger) (*Coordinator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	if cfg.ACL == nil {
		return nil, errors.New("acl cannot be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	trusted := make(map[common.Address]struct{}, len(cfg.TrustedAttestors))
	for _, addr := range cfg.TrustedAttestors {
		trusted[addr] = struct{}{}
	}

	return &Coordinator{
		cfg:     cfg,
		trusted: trusted,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}, nil
}

// PoolID returns the configured pool identifier.
func (c *Coordinator) PoolID() common.Hash { return c.cfg.PoolID }

// AssetID returns the configured asset identifier.
func (c *Coordinator) AssetID() common.Hash { return c.cfg.AssetID }

// SubmitReport accepts a pushed canonical report. The caller must hold the
// OracleUpdater capability. On any error the stores are left untouched.
func (c *Coordinator) SubmitReport(ctx context.Context, caller common.Address, encoded, attestation []byte) (report.ReserveReport, error) {
	if err := c.cfg.ACL.Require(access.OracleUpdater, caller); err != nil {
		return report.ReserveReport{}, err
	}

	r, err := report.Decode(encoded)
	if err != nil {
		return report.ReserveReport{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if len(c.trusted) > 0 {
		signer, err := report.RecoverSigner(encoded, attestation)
		if err != nil {
			return report.ReserveReport{}, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
		}
		if _, ok := c.trusted[signer]; !ok {
			return report.ReserveReport{}, fmt.Errorf("%w: signer %s not trusted", ErrInvalidAttestation, signer.Hex())
		}
	}

	if err := c.accept(ctx, r, SourcePush, caller); err != nil {
		return report.ReserveReport{}, err
	}
	return r, nil
}

// ProcessScheduledUpdate pulls the latest values from the provider, stamps
// them with the current time and applies them through the same acceptance
// path as SubmitReport. The caller must hold the Automation capability.
func (c *Coordinator) ProcessScheduledUpdate(ctx context.Context, caller common.Address) (report.ReserveReport, error) {
	if err := c.cfg.ACL.Require(access.Automation, caller); err != nil {
		return report.ReserveReport{}, err
	}

	nav, reserve, err := c.cfg.Provider.FetchLatest(ctx, c.cfg.PoolID, c.cfg.AssetID)
	if err != nil {
		return report.ReserveReport{}, fmt.Errorf("fetch provider values: %w", err)
	}
	if nav == nil || reserve == nil || nav.Sign() < 0 || reserve.Sign() < 0 {
		return report.ReserveReport{}, errors.New("provider returned invalid values")
	}

	ts := uint64(c.cfg.Now().Unix())
	r := report.ReserveReport{
		PoolID:    c.cfg.PoolID,
		AssetID:   c.cfg.AssetID,
		NAV:       nav,
		Reserve:   reserve,
		Timestamp: ts,
		ReportID:  report.TimestampReportID(ts),
	}

	if err := c.accept(ctx, r, SourceScheduled, caller); err != nil {
		return report.ReserveReport{}, err
	}
	return r, nil
}

// LatestNav returns the NAV record for poolID.
func (c *Coordinator) LatestNav(ctx context.Context, poolID common.Hash) (Record, error) {
	return c.cfg.Registry.LatestNav(ctx, poolID)
}

// LatestReserve returns the PoR record for assetID.
func (c *Coordinator) LatestReserve(ctx context.Context, assetID common.Hash) (Record, error) {
	return c.cfg.Registry.LatestReserve(ctx, assetID)
}

func (c *Coordinator) accept(ctx context.Context, r report.ReserveReport, source string, caller common.Address) error {
	if r.PoolID != c.cfg.PoolID {
		return fmt.Errorf("%w: pool %s", ErrIdentifierMismatch, r.PoolID.Hex())
	}
	if r.AssetID != c.cfg.AssetID {
		return fmt.Errorf("%w: asset %s", ErrIdentifierMismatch, r.AssetID.Hex())
	}

	if err := c.commit(ctx, r, source); err != nil {
		return err
	}

	// Listeners run without c.mu held; they may re-enter the coordinator.
	if c.cfg.Listener != nil {
		c.cfg.Listener.ReportAccepted(ctx, Acceptance{Report: r, Source: source, Caller: caller})
	}
	return nil
}

func (c *Coordinator) commit(ctx context.Context, r report.ReserveReport, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.RejectStale {
		if err := c.checkFreshness(ctx, r); err != nil {
			return err
		}
	}

	update := Update{
		PoolID:    r.PoolID,
		AssetID:   r.AssetID,
		NAV:       r.NAV,
		Reserve:   r.Reserve,
		Timestamp: r.Timestamp,
		ReportID:  r.ReportID,
		Source:    source,
	}
	if err := c.cfg.Registry.Commit(ctx, update); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}

	c.logger.Info().
		Str("source", source).
		Str("report_id", r.ReportID.Hex()).
		Str("nav", report.FormatScaled(r.NAV)).
		Str("reserve", report.FormatScaled(r.Reserve)).
		Uint64("timestamp", r.Timestamp).
		Msg("report accepted")
	return nil
}

func (c *Coordinator) checkFreshness(ctx context.Context, r report.ReserveReport) error {
	for _, read := range []func() (Record, error){
		func() (Record, error) { return c.cfg.Registry.LatestNav(ctx, r.PoolID) },
		func() (Record, error) { return c.cfg.Registry.LatestReserve(ctx, r.AssetID) },
	} {
		current, err := read()
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read current record: %w", err)
		}
		if r.Timestamp < current.Timestamp {
			return fmt.Errorf("%w: timestamp %d older than stored %d", ErrStaleReport, r.Timestamp, current.Timestamp)
		}
	}
	return nil
}

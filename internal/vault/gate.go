package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"aura-oracle/internal/oracle"
)

// ErrSystemPaused is returned when stored reserve does not cover the
// liability implied by stored NAV, or when either record is unavailable.
var ErrSystemPaused = errors.New("vault: system paused")

var wad = uint256.NewInt(1_000_000_000_000_000_000)

// OracleReader is the coordinator read surface the gate consumes.
type OracleReader interface {
	LatestNav(ctx context.Context, poolID common.Hash) (oracle.Record, error)
	LatestReserve(ctx context.Context, assetID common.Hash) (oracle.Record, error)
}

// Status is one evaluation of the solvency invariant reserve >= nav * shares.
type Status struct {
	NAV              *uint256.Int
	Reserve          *uint256.Int
	Liability        *uint256.Int
	TotalShares      *uint256.Int
	NAVTimestamp     uint64
	ReserveTimestamp uint64
	Open             bool
	Reason           string
}

// Gate recomputes the solvency invariant from the oracle stores on every
// call. It keeps no paused flag and caches nothing.
type Gate struct {
	oracle  OracleReader
	poolID  common.Hash
	assetID common.Hash
}

// NewGate builds a gate over the given pool/asset records.
func NewGate(reader OracleReader, poolID, assetID common.Hash) *Gate {
	return &Gate{oracle: reader, poolID: poolID, assetID: assetID}
}

// Evaluate reads the latest NAV and PoR and reports whether an operation
// against totalShares outstanding may proceed. Missing records close the
// gate; other read failures are returned as errors.
func (g *Gate) Evaluate(ctx context.Context, totalShares *uint256.Int) (Status, error) {
	status := Status{TotalShares: new(uint256.Int).Set(totalShares)}

	navRec, err := g.oracle.LatestNav(ctx, g.poolID)
	if errors.Is(err, oracle.ErrNotFound) {
		status.Reason = "nav unavailable"
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("read nav: %w", err)
	}
	porRec, err := g.oracle.LatestReserve(ctx, g.assetID)
	if errors.Is(err, oracle.ErrNotFound) {
		status.Reason = "reserve unavailable"
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("read reserve: %w", err)
	}

	nav, overflow := uint256.FromBig(navRec.Value)
	if overflow {
		return status, fmt.Errorf("nav exceeds 256 bits")
	}
	reserve, overflow := uint256.FromBig(porRec.Value)
	if overflow {
		return status, fmt.Errorf("reserve exceeds 256 bits")
	}
	status.NAV = nav
	status.Reserve = reserve
	status.NAVTimestamp = navRec.Timestamp
	status.ReserveTimestamp = porRec.Timestamp

	liability, overflow := new(uint256.Int).MulDivOverflow(nav, totalShares, wad)
	if overflow {
		status.Reason = "liability overflow"
		return status, nil
	}
	status.Liability = liability

	if reserve.Lt(liability) {
		status.Reason = "reserve below liability"
		return status, nil
	}
	status.Open = true
	return status, nil
}

// Check returns ErrSystemPaused unless the gate is open for totalShares.
func (g *Gate) Check(ctx context.Context, totalShares *uint256.Int) (Status, error) {
	status, err := g.Evaluate(ctx, totalShares)
	if err != nil {
		return status, err
	}
	if !status.Open {
		return status, fmt.Errorf("%w: %s", ErrSystemPaused, status.Reason)
	}
	return status, nil
}

// SupplySource reports the outstanding share supply the monitor evaluates against.
type SupplySource interface {
	TotalShares(ctx context.Context) (*uint256.Int, error)
}

// StaticSupply is a fixed share supply.
type StaticSupply struct {
	Shares *uint256.Int
}

// TotalShares implements SupplySource.
func (s StaticSupply) TotalShares(context.Context) (*uint256.Int, error) {
	if s.Shares == nil {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(s.Shares), nil
}

// Monitor evaluates the gate against an external share supply without
// gating anything itself.
type Monitor struct {
	gate   *Gate
	supply SupplySource
}

// NewMonitor builds a Monitor.
func NewMonitor(gate *Gate, supply SupplySource) *Monitor {
	return &Monitor{gate: gate, supply: supply}
}

// Status reads the supply and evaluates the gate.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	shares, err := m.supply.TotalShares(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read share supply: %w", err)
	}
	return m.gate.Evaluate(ctx, shares)
}

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	// ErrNotVerified is returned when a participant is not on the compliance allow-list.
	ErrNotVerified = errors.New("vault: participant not verified")
	// ErrZeroAmount is returned for operations that would move nothing.
	ErrZeroAmount = errors.New("vault: zero amount")
	// ErrInsufficientShares is returned when an owner burns more shares than held.
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	// ErrInsufficientAssets is returned when the vault cannot pay out the requested assets.
	ErrInsufficientAssets = errors.New("vault: insufficient assets")
	// ErrInvalidNAV is returned when shares cannot be priced.
	ErrInvalidNAV = errors.New("vault: invalid nav")
)

// Verifier is the identity/compliance registry.
type Verifier interface {
	IsVerified(addr common.Address) bool
}

// Vault issues shares against deposited assets at the latest stored NAV.
// Every mutating operation evaluates the solvency gate first, under the
// same lock that applies the mutation.
type Vault struct {
	gate     *Gate
	reader   OracleReader
	poolID   common.Hash
	verifier Verifier
	logger   zerolog.Logger

	mu          sync.Mutex
	balances    map[common.Address]*uint256.Int
	totalShares *uint256.Int
	totalAssets *uint256.Int
}

// New builds an empty vault.
func New(reader OracleReader, poolID, assetID common.Hash, verifier Verifier, logger zerolog.Logger) *Vault {
	return &Vault{
		gate:        NewGate(reader, poolID, assetID),
		reader:      reader,
		poolID:      poolID,
		verifier:    verifier,
		logger:      logger.With().Str("component", "vault").Logger(),
		balances:    make(map[common.Address]*uint256.Int),
		totalShares: new(uint256.Int),
		totalAssets: new(uint256.Int),
	}
}

// Deposit takes assets and credits receiver with shares at the current NAV.
func (v *Vault) Deposit(ctx context.Context, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if isZero(assets) {
		return nil, ErrZeroAmount
	}
	if err := v.requireVerified(receiver); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.gate.Check(ctx, v.totalShares)
	if err != nil {
		return nil, err
	}
	shares, err := assetsToShares(assets, status.NAV, false)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit below one share unit", ErrZeroAmount)
	}

	v.credit(receiver, shares, assets)
	v.logger.Info().Str("receiver", receiver.Hex()).Str("assets", assets.Dec()).Str("shares", shares.Dec()).Msg("deposit")
	return shares, nil
}

// Mint credits receiver with exactly shares and returns the assets charged.
func (v *Vault) Mint(ctx context.Context, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if isZero(shares) {
		return nil, ErrZeroAmount
	}
	if err := v.requireVerified(receiver); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.gate.Check(ctx, v.totalShares)
	if err != nil {
		return nil, err
	}
	assets, err := sharesToAssets(shares, status.NAV, true)
	if err != nil {
		return nil, err
	}

	v.credit(receiver, shares, assets)
	v.logger.Info().Str("receiver", receiver.Hex()).Str("assets", assets.Dec()).Str("shares", shares.Dec()).Msg("mint")
	return assets, nil
}

// Withdraw pays out assets to receiver, burning the owner's shares.
func (v *Vault) Withdraw(ctx context.Context, owner common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if isZero(assets) {
		return nil, ErrZeroAmount
	}
	if err := v.requireVerified(receiver); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.gate.Check(ctx, v.totalShares)
	if err != nil {
		return nil, err
	}
	shares, err := assetsToShares(assets, status.NAV, true)
	if err != nil {
		return nil, err
	}
	if err := v.debit(owner, shares, assets); err != nil {
		return nil, err
	}
	v.logger.Info().Str("owner", owner.Hex()).Str("assets", assets.Dec()).Str("shares", shares.Dec()).Msg("withdraw")
	return shares, nil
}

// Redeem burns shares from owner and pays the equivalent assets to receiver.
func (v *Vault) Redeem(ctx context.Context, owner common.Address, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if isZero(shares) {
		return nil, ErrZeroAmount
	}
	if err := v.requireVerified(receiver); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.gate.Check(ctx, v.totalShares)
	if err != nil {
		return nil, err
	}
	assets, err := sharesToAssets(shares, status.NAV, false)
	if err != nil {
		return nil, err
	}
	if err := v.debit(owner, shares, assets); err != nil {
		return nil, err
	}
	v.logger.Info().Str("owner", owner.Hex()).Str("assets", assets.Dec()).Str("shares", shares.Dec()).Msg("redeem")
	return assets, nil
}

// PreviewDeposit, PreviewMint, PreviewWithdraw and PreviewRedeem price an
// operation at the current NAV without consulting the solvency gate. Their
// results are advisory: the gate may close, or NAV may move, before a
// subsequent mutating call executes.

// PreviewDeposit returns the shares a deposit of assets would mint now.
func (v *Vault) PreviewDeposit(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	nav, err := v.currentNAV(ctx)
	if err != nil {
		return nil, err
	}
	return assetsToShares(assets, nav, false)
}

// PreviewMint returns the assets needed to mint shares now.
func (v *Vault) PreviewMint(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	nav, err := v.currentNAV(ctx)
	if err != nil {
		return nil, err
	}
	return sharesToAssets(shares, nav, true)
}

// PreviewWithdraw returns the shares burned to withdraw assets now.
func (v *Vault) PreviewWithdraw(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	nav, err := v.currentNAV(ctx)
	if err != nil {
		return nil, err
	}
	return assetsToShares(assets, nav, true)
}

// PreviewRedeem returns the assets paid for redeeming shares now.
func (v *Vault) PreviewRedeem(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	nav, err := v.currentNAV(ctx)
	if err != nil {
		return nil, err
	}
	return sharesToAssets(shares, nav, false)
}

// Status evaluates the gate against the current share supply.
func (v *Vault) Status(ctx context.Context) (Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gate.Evaluate(ctx, v.totalShares)
}

// BalanceOf returns the share balance of account.
func (v *Vault) BalanceOf(account common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bal, ok := v.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// TotalShares returns the outstanding share supply.
func (v *Vault) TotalShares() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.totalShares)
}

// TotalAssets returns the assets held by the vault.
func (v *Vault) TotalAssets() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.totalAssets)
}

func (v *Vault) requireVerified(addr common.Address) error {
	if v.verifier != nil && !v.verifier.IsVerified(addr) {
		return fmt.Errorf("%w: %s", ErrNotVerified, addr.Hex())
	}
	return nil
}

func (v *Vault) currentNAV(ctx context.Context) (*uint256.Int, error) {
	rec, err := v.reader.LatestNav(ctx, v.poolID)
	if err != nil {
		return nil, err
	}
	nav, overflow := uint256.FromBig(rec.Value)
	if overflow {
		return nil, fmt.Errorf("%w: exceeds 256 bits", ErrInvalidNAV)
	}
	return nav, nil
}

// credit and debit are called with v.mu held and after all checks passed.
func (v *Vault) credit(account common.Address, shares, assets *uint256.Int) {
	bal, ok := v.balances[account]
	if !ok {
		bal = new(uint256.Int)
		v.balances[account] = bal
	}
	bal.Add(bal, shares)
	v.totalShares.Add(v.totalShares, shares)
	v.totalAssets.Add(v.totalAssets, assets)
}

func (v *Vault) debit(account common.Address, shares, assets *uint256.Int) error {
	bal, ok := v.balances[account]
	if !ok || bal.Lt(shares) {
		return fmt.Errorf("%w: %s", ErrInsufficientShares, account.Hex())
	}
	if v.totalAssets.Lt(assets) {
		return fmt.Errorf("%w: requested %s, held %s", ErrInsufficientAssets, assets.Dec(), v.totalAssets.Dec())
	}
	bal.Sub(bal, shares)
	v.totalShares.Sub(v.totalShares, shares)
	v.totalAssets.Sub(v.totalAssets, assets)
	return nil
}

// assetsToShares converts at nav (18 decimals per share), rounding up when
// roundUp is set so the vault never undercharges.
func assetsToShares(assets, nav *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if assets == nil {
		return nil, ErrZeroAmount
	}
	if nav == nil || nav.IsZero() {
		return nil, fmt.Errorf("%w: zero", ErrInvalidNAV)
	}
	return mulDiv(assets, wad, nav, roundUp)
}

func sharesToAssets(shares, nav *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if shares == nil {
		return nil, ErrZeroAmount
	}
	if nav == nil || nav.IsZero() {
		return nil, fmt.Errorf("%w: zero", ErrInvalidNAV)
	}
	return mulDiv(shares, nav, wad, roundUp)
}

func isZero(v *uint256.Int) bool { return v == nil || v.IsZero() }

func mulDiv(x, y, d *uint256.Int, roundUp bool) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, errors.New("vault: arithmetic overflow")
	}
	if roundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		out.AddUint64(out, 1)
	}
	return out, nil
}

// Supply adapts the vault's own share supply to SupplySource.
func (v *Vault) Supply() SupplySource {
	return vaultSupply{v}
}

type vaultSupply struct{ v *Vault }

func (s vaultSupply) TotalShares(context.Context) (*uint256.Int, error) {
	return s.v.TotalShares(), nil
}

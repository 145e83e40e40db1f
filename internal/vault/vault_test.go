package vault

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-oracle/internal/access"
	"aura-oracle/internal/oracle"
	"aura-oracle/internal/provider"
	"aura-oracle/internal/report"
)

var (
	admin    = common.HexToAddress("0xad")
	updater  = common.HexToAddress("0x0d")
	investor = common.HexToAddress("0x1e")
	outsider = common.HexToAddress("0x0e")

	poolID, _  = report.ParseID("AURA_POOL")
	assetID, _ = report.ParseID("AURA_ASSET")
)

func bigUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func u256Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), wad)
}

type fixture struct {
	coord *oracle.Coordinator
	vault *Vault
	allow *AllowList
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	acl := access.NewACL(admin)
	require.NoError(t, acl.Grant(admin, access.OracleUpdater, updater))

	coord, err := oracle.NewCoordinator(oracle.Config{
		Registry: oracle.NewMemoryRegistry(),
		Provider: provider.NewStatic(nil, nil),
		ACL:      acl,
		PoolID:   poolID,
		AssetID:  assetID,
	}, zerolog.Nop())
	require.NoError(t, err)

	allow := NewAllowList(admin, investor)
	return &fixture{
		coord: coord,
		vault: New(coord, poolID, assetID, allow, zerolog.Nop()),
		allow: allow,
	}
}

func (f *fixture) submit(t *testing.T, nav, reserve *big.Int) {
	t.Helper()
	ts := uint64(time.Now().Unix())
	encoded, err := report.Encode(report.ReserveReport{
		PoolID: poolID, AssetID: assetID, NAV: nav, Reserve: reserve,
		Timestamp: ts, ReportID: report.TimestampReportID(ts),
	})
	require.NoError(t, err)
	_, err = f.coord.SubmitReport(context.Background(), updater, encoded, nil)
	require.NoError(t, err)
}

func TestDepositSucceedsWhenReserveCoversLiability(t *testing.T) {
	f := newFixture(t)
	f.submit(t, bigUnits(1), bigUnits(1_000_000))

	shares, err := f.vault.Deposit(context.Background(), u256Units(40), investor)
	require.NoError(t, err)
	assert.True(t, shares.Sign() > 0)
	assert.Equal(t, u256Units(40), f.vault.BalanceOf(investor))
	assert.Equal(t, u256Units(40), f.vault.TotalAssets())
}

func TestDepositPausedWhenReserveDropsBelowLiability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, bigUnits(1), bigUnits(1_000_000))
	_, err := f.vault.Deposit(ctx, u256Units(40), investor)
	require.NoError(t, err)

	f.submit(t, bigUnits(1), bigUnits(1))

	balance := f.vault.BalanceOf(investor)
	supply := f.vault.TotalShares()
	assets := f.vault.TotalAssets()

	_, err = f.vault.Deposit(ctx, u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused)
	assert.Equal(t, balance, f.vault.BalanceOf(investor))
	assert.Equal(t, supply, f.vault.TotalShares())
	assert.Equal(t, assets, f.vault.TotalAssets())

	_, err = f.vault.Redeem(ctx, investor, u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused, "withdrawal paths are gated too")
	_, err = f.vault.Withdraw(ctx, investor, u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused)
	_, err = f.vault.Mint(ctx, u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused)
	assert.Equal(t, balance, f.vault.BalanceOf(investor))
}

func TestGateRecomputesOnEveryCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, bigUnits(1), bigUnits(1_000_000))
	_, err := f.vault.Deposit(ctx, u256Units(40), investor)
	require.NoError(t, err)

	f.submit(t, bigUnits(1), bigUnits(1))
	_, err = f.vault.Deposit(ctx, u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused)

	f.submit(t, bigUnits(1), bigUnits(100))
	_, err = f.vault.Deposit(ctx, u256Units(1), investor)
	require.NoError(t, err, "restored reserve reopens the gate without any unpause step")
}

func TestGateClosedWithoutOracleData(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.Deposit(context.Background(), u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused)

	status, err := f.vault.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Open)
	assert.Equal(t, "nav unavailable", status.Reason)
}

func TestDepositRequiresVerifiedReceiver(t *testing.T) {
	f := newFixture(t)
	f.submit(t, bigUnits(1), bigUnits(1_000_000))

	_, err := f.vault.Deposit(context.Background(), u256Units(1), outsider)
	require.ErrorIs(t, err, ErrNotVerified)

	f.allow.SetVerified(outsider, true)
	_, err = f.vault.Deposit(context.Background(), u256Units(1), outsider)
	require.NoError(t, err)
}

func TestSharePricingFollowsNAV(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, bigUnits(2), bigUnits(1_000_000))

	shares, err := f.vault.Deposit(ctx, u256Units(10), investor)
	require.NoError(t, err)
	assert.Equal(t, u256Units(5), shares)

	assets, err := f.vault.Mint(ctx, u256Units(1), investor)
	require.NoError(t, err)
	assert.Equal(t, u256Units(2), assets)

	burned, err := f.vault.Withdraw(ctx, investor, u256Units(4), investor)
	require.NoError(t, err)
	assert.Equal(t, u256Units(2), burned)

	paid, err := f.vault.Redeem(ctx, investor, u256Units(4), investor)
	require.NoError(t, err)
	assert.Equal(t, u256Units(8), paid)
	assert.True(t, f.vault.BalanceOf(investor).IsZero())
	assert.True(t, f.vault.TotalShares().IsZero())
}

func TestRedeemMoreThanHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, bigUnits(1), bigUnits(1_000_000))
	_, err := f.vault.Deposit(ctx, u256Units(1), investor)
	require.NoError(t, err)

	_, err = f.vault.Redeem(ctx, investor, u256Units(2), investor)
	require.ErrorIs(t, err, ErrInsufficientShares)
	_, err = f.vault.Redeem(ctx, admin, u256Units(1), admin)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestPreviewIsNotGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, bigUnits(1), bigUnits(1_000_000))
	_, err := f.vault.Deposit(ctx, u256Units(40), investor)
	require.NoError(t, err)

	f.submit(t, bigUnits(1), bigUnits(1))

	preview, err := f.vault.PreviewDeposit(ctx, u256Units(1))
	require.NoError(t, err, "previews stay available while the gate is closed")
	assert.Equal(t, u256Units(1), preview)

	_, err = f.vault.Deposit(ctx, u256Units(1), investor)
	require.ErrorIs(t, err, ErrSystemPaused)

	redeem, err := f.vault.PreviewRedeem(ctx, u256Units(20))
	require.NoError(t, err)
	assert.Equal(t, u256Units(20), redeem)
}

func TestZeroAmounts(t *testing.T) {
	f := newFixture(t)
	f.submit(t, bigUnits(1), bigUnits(1_000_000))
	_, err := f.vault.Deposit(context.Background(), new(uint256.Int), investor)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.vault.Redeem(context.Background(), investor, new(uint256.Int), investor)
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestNilAmountsAreZero(t *testing.T) {
	f := newFixture(t)
	f.submit(t, bigUnits(1), bigUnits(1_000_000))
	ctx := context.Background()

	_, err := f.vault.Deposit(ctx, nil, investor)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.vault.Mint(ctx, nil, investor)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.vault.Withdraw(ctx, investor, nil, investor)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.vault.Redeem(ctx, investor, nil, investor)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = f.vault.PreviewDeposit(ctx, nil)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = f.vault.PreviewRedeem(ctx, nil)
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestMulDivRounding(t *testing.T) {
	down, err := mulDiv(uint256.NewInt(10), uint256.NewInt(1), uint256.NewInt(3), false)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(3), down)

	up, err := mulDiv(uint256.NewInt(10), uint256.NewInt(1), uint256.NewInt(3), true)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(4), up)

	exact, err := mulDiv(uint256.NewInt(9), uint256.NewInt(1), uint256.NewInt(3), true)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(3), exact)

	_, err = assetsToShares(uint256.NewInt(1), new(uint256.Int), false)
	require.ErrorIs(t, err, ErrInvalidNAV)
}

func TestMonitorTracksVaultSupply(t *testing.T) {
	f := newFixture(t)
	f.submit(t, bigUnits(1), bigUnits(50))
	ctx := context.Background()

	monitor := NewMonitor(NewGate(f.coord, poolID, assetID), f.vault.Supply())
	status, err := monitor.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Open)

	_, err = f.vault.Deposit(ctx, u256Units(60), investor)
	require.NoError(t, err)

	status, err = monitor.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Open)
	assert.Equal(t, u256Units(60), status.Liability)
	assert.Equal(t, "reserve below liability", status.Reason)
}

func TestStaticSupply(t *testing.T) {
	got, err := StaticSupply{}.TotalShares(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	src := uint256.NewInt(7)
	got, err = StaticSupply{Shares: src}.TotalShares(context.Background())
	require.NoError(t, err)
	got.SetUint64(8)
	assert.Equal(t, uint64(7), src.Uint64(), "returned value is a copy")
}

package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-oracle/internal/config"
	"aura-oracle/internal/storage"
	"aura-oracle/internal/vault"
	"aura-oracle/internal/workflow"
)

const investor = "0x00000000000000000000000000000000000000f1"

const memoryConfig = `
oracle:
  store: memory
workflow:
  attestation_key: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
vault:
  verified:
    - "` + investor + `"
`

func newTestApp(t *testing.T, extra string) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(memoryConfig+extra), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return NewApp(cfg, zerolog.Nop())
}

func TestSubmitThroughLocalLedger(t *testing.T) {
	a := newTestApp(t, "")
	var out bytes.Buffer

	err := a.Submit(context.Background(), []byte(`{"nav":"1000000000000000000","reserve":"5000000000000000000"}`), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "tx_hash: 0x")
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	a := newTestApp(t, "")
	err := a.Submit(context.Background(), []byte(`{"nav":"-1","reserve":"1"}`), &bytes.Buffer{})
	require.ErrorIs(t, err, workflow.ErrValidation)
}

func TestUpkeepUsesStaticProvider(t *testing.T) {
	a := newTestApp(t, "")
	var out bytes.Buffer

	require.NoError(t, a.Upkeep(context.Background(), &out))
	assert.Contains(t, out.String(), "nav: 1\n")
	assert.Contains(t, out.String(), "reserve: 1000000\n")
}

func TestUpkeepRejectsInvalidTrustedAttestor(t *testing.T) {
	a := newTestApp(t, "")
	a.Config.Oracle.TrustedAttestors = []string{"not-an-address"}

	var out bytes.Buffer
	err := a.Upkeep(context.Background(), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle.trusted_attestors")
	assert.Empty(t, out.String())
}

func TestSolvencyEmptyStorePauses(t *testing.T) {
	a := newTestApp(t, "")
	var out bytes.Buffer

	require.NoError(t, a.Solvency(context.Background(), SolvencyOptions{Shares: uint256.NewInt(1)}, &out))
	assert.Contains(t, out.String(), "PAUSED")
	assert.Contains(t, out.String(), "nav unavailable")
}

func TestSimulateDeposit(t *testing.T) {
	a := newTestApp(t, "")
	var out bytes.Buffer

	err := a.SimulateDeposit(context.Background(), SimulateDepositOptions{
		Assets:   decimal.NewFromInt(40),
		Receiver: common.HexToAddress(investor),
		Count:    2,
		Refresh:  true,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "refreshed: nav 1 reserve 1000000")
	assert.Contains(t, out.String(), "deposit 2: assets 40 -> shares 40 (total shares 80)")
}

func TestSimulateDepositPausedWithoutRecords(t *testing.T) {
	a := newTestApp(t, "")
	err := a.SimulateDeposit(context.Background(), SimulateDepositOptions{
		Assets:   decimal.NewFromInt(1),
		Receiver: common.HexToAddress(investor),
	}, &bytes.Buffer{})
	require.ErrorIs(t, err, vault.ErrSystemPaused)
}

func TestSimulateDepositUnverifiedReceiver(t *testing.T) {
	a := newTestApp(t, "")
	err := a.SimulateDeposit(context.Background(), SimulateDepositOptions{
		Assets:   decimal.NewFromInt(1),
		Receiver: common.HexToAddress("0x0e"),
		Refresh:  true,
	}, &bytes.Buffer{})
	require.ErrorIs(t, err, vault.ErrNotVerified)
}

func TestToUnits(t *testing.T) {
	v, err := toUnits(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.Dec())

	_, err = toUnits(decimal.Zero)
	require.Error(t, err)
	_, err = toUnits(decimal.RequireFromString("0.0000000000000000001"))
	require.Error(t, err)
}

func TestDownsampleKeepsEnds(t *testing.T) {
	subs := make([]storage.SubmissionRecord, 10)
	for i := range subs {
		subs[i].ID = int64(i)
	}
	got := downsample(subs, 4)
	require.Len(t, got, 4)
	assert.Equal(t, int64(0), got[0].ID)
	assert.Equal(t, int64(9), got[3].ID)
	assert.Len(t, downsample(subs, 20), 10)
}

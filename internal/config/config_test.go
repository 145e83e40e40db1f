package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aura-oracle/internal/report"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "oracle:\n  store: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Automation.MinInterval)
	assert.Equal(t, ProviderStatic, cfg.Provider.Kind)
	assert.Equal(t, LedgerLocal, cfg.Workflow.Ledger)
	assert.Equal(t, report.IDSchemeTimestamp, cfg.Workflow.ReportIDScheme)

	pool, asset := cfg.Oracle.IDs()
	want, _ := report.ParseID("AURA_POOL")
	assert.Equal(t, want, pool)
	assert.NotEqual(t, pool, asset)

	nav, reserve, err := cfg.Provider.Static.Values()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", nav.String())
	assert.Equal(t, "1000000000000000000000000", reserve.String())
}

func TestLoadNetworksAndEnv(t *testing.T) {
	path := writeConfig(t, `
oracle:
  store: memory
  updaters: ["0x00000000000000000000000000000000000000aa"]
networks:
  hardhat:
    selector: 1
    chain_id: 31337
    rpc_url: http://127.0.0.1:8545
`)
	t.Setenv("AURAORACLE_AUTOMATION_MIN_INTERVAL", "1h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Automation.MinInterval)
	require.Contains(t, cfg.Networks, "hardhat")
	assert.Equal(t, uint64(31337), cfg.Networks["hardhat"].ChainID)

	updaters, err := ParseAddresses("oracle.updaters", cfg.Oracle.Updaters)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress("0xaa")}, updaters)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"postgres without dsn": "oracle:\n  store: postgres\n",
		"bad pool id":          "oracle:\n  store: memory\n  pool_id: \"0x1234\"\n",
		"unknown provider":     "oracle:\n  store: memory\nprovider:\n  kind: oracle-of-delphi\n",
		"http without url":     "oracle:\n  store: memory\nprovider:\n  kind: http\n",
		"evm without key":      "oracle:\n  store: memory\nworkflow:\n  ledger: evm\n  receiver: \"0x00000000000000000000000000000000000000aa\"\n",
		"bad id scheme":        "oracle:\n  store: memory\nworkflow:\n  report_id_scheme: random\n",
		"zero interval":        "oracle:\n  store: memory\nautomation:\n  min_interval: 0s\n",
		"telegram no token":    "oracle:\n  store: memory\nalerting:\n  telegram:\n    enabled: true\n",
		"negative static nav":  "oracle:\n  store: memory\nprovider:\n  static:\n    nav: \"-1\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	assert.Equal(t, 10, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 3, cfg.ResolveMaxPoints(3))
}

package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"aura-oracle/internal/logging"
	"aura-oracle/internal/report"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Provider kinds.
const (
	ProviderStatic    = "static"
	ProviderHTTP      = "http"
	ProviderChainlink = "chainlink"
)

// Ledger kinds.
const (
	LedgerLocal = "local"
	LedgerEVM   = "evm"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig                `mapstructure:"app"`
	Logging    logging.Config           `mapstructure:"logging"`
	Database   DatabaseConfig           `mapstructure:"database"`
	Scheduler  SchedulerConfig          `mapstructure:"scheduler"`
	Automation AutomationConfig         `mapstructure:"automation"`
	Oracle     OracleConfig             `mapstructure:"oracle"`
	Provider   ProviderConfig           `mapstructure:"provider"`
	Workflow   WorkflowConfig           `mapstructure:"workflow"`
	Networks   map[string]NetworkConfig `mapstructure:"networks"`
	Vault      VaultConfig              `mapstructure:"vault"`
	Alerting   AlertingConfig           `mapstructure:"alerting"`
	Trigger    TriggerConfig            `mapstructure:"trigger"`
	Export     ExportConfig             `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the daemon tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AutomationConfig covers the upkeep facade.
type AutomationConfig struct {
	Name        string        `mapstructure:"name"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	// Caller is the identity the facade presents to the coordinator.
	Caller string `mapstructure:"caller"`
}

// OracleConfig configures the coordinator and its stores.
type OracleConfig struct {
	Store            string   `mapstructure:"store"`
	PoolID           string   `mapstructure:"pool_id"`
	AssetID          string   `mapstructure:"asset_id"`
	Admin            string   `mapstructure:"admin"`
	Updaters         []string `mapstructure:"updaters"`
	TrustedAttestors []string `mapstructure:"trusted_attestors"`
	RejectStale      bool     `mapstructure:"reject_stale"`
}

// ProviderConfig selects the external NAV/PoR source.
type ProviderConfig struct {
	Kind      string               `mapstructure:"kind"`
	Static    StaticProviderConfig `mapstructure:"static"`
	HTTP      HTTPProviderConfig   `mapstructure:"http"`
	Chainlink ChainlinkConfig      `mapstructure:"chainlink"`
}

// StaticProviderConfig holds fixed 18-decimal values.
type StaticProviderConfig struct {
	NAV     string `mapstructure:"nav"`
	Reserve string `mapstructure:"reserve"`
}

// HTTPProviderConfig covers a JSON NAV/PoR endpoint.
type HTTPProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig covers AggregatorV3 feeds.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	NAVFeed        string        `mapstructure:"nav_feed"`
	ReserveFeed    string        `mapstructure:"reserve_feed"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WorkflowConfig configures the report builder/submitter.
type WorkflowConfig struct {
	ChainSelectorName string        `mapstructure:"chain_selector_name"`
	Receiver          string        `mapstructure:"receiver"`
	GasLimit          uint64        `mapstructure:"gas_limit"`
	ReportIDScheme    string        `mapstructure:"report_id_scheme"`
	AttestationKey    string        `mapstructure:"attestation_key"`
	Ledger            string        `mapstructure:"ledger"`
	TransactorKey     string        `mapstructure:"transactor_key"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ReceiptTimeout    time.Duration `mapstructure:"receipt_timeout"`
	// LocalCaller is the identity the local ledger submits as.
	LocalCaller string `mapstructure:"local_caller"`
}

// NetworkConfig overrides or adds a chain-selector entry.
type NetworkConfig struct {
	Selector uint64 `mapstructure:"selector"`
	ChainID  uint64 `mapstructure:"chain_id"`
	RPCURL   string `mapstructure:"rpc_url"`
	Testnet  bool   `mapstructure:"testnet"`
}

// VaultConfig configures the solvency monitor and the in-process vault used
// by simulations.
type VaultConfig struct {
	Verified []string `mapstructure:"verified"`
	// ShareToken, when set, is read over RPCURL for the monitored share supply.
	ShareToken string `mapstructure:"share_token"`
	RPCURL     string `mapstructure:"rpc_url"`
	// MonitorShares is the fixed supply monitored when ShareToken is unset.
	MonitorShares string `mapstructure:"monitor_shares"`
}

// AlertingConfig defines solvency alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// TriggerConfig configures the HTTP trigger endpoint.
type TriggerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AURAORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auraoracle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x4e415650))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("automation.name", "nav-por")
	v.SetDefault("automation.min_interval", "24h")
	v.SetDefault("automation.caller", "0x00000000000000000000000000000000000a0701")

	v.SetDefault("oracle.store", StorePostgres)
	v.SetDefault("oracle.pool_id", "AURA_POOL")
	v.SetDefault("oracle.asset_id", "AURA_ASSET")
	v.SetDefault("oracle.admin", "0x00000000000000000000000000000000000ad417")
	v.SetDefault("oracle.reject_stale", false)

	v.SetDefault("provider.kind", ProviderStatic)
	v.SetDefault("provider.static.nav", "1000000000000000000")
	v.SetDefault("provider.static.reserve", "1000000000000000000000000")
	v.SetDefault("provider.http.request_timeout", "10s")
	v.SetDefault("provider.http.user_agent", "auraoracle/1.0")
	v.SetDefault("provider.chainlink.request_timeout", "10s")
	v.SetDefault("provider.chainlink.max_age", "26h")

	v.SetDefault("workflow.chain_selector_name", "ethereum-testnet-sepolia")
	v.SetDefault("workflow.gas_limit", uint64(500000))
	v.SetDefault("workflow.report_id_scheme", report.IDSchemeTimestamp)
	v.SetDefault("workflow.ledger", LedgerLocal)
	v.SetDefault("workflow.poll_interval", "2s")
	v.SetDefault("workflow.receipt_timeout", "5m")
	v.SetDefault("workflow.local_caller", "0x0000000000000000000000000000000000c0ffee")

	v.SetDefault("vault.monitor_shares", "0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("trigger.enabled", false)
	v.SetDefault("trigger.listen_addr", ":8080")
	v.SetDefault("trigger.read_timeout", "10s")
	v.SetDefault("trigger.write_timeout", "6m")
	v.SetDefault("trigger.max_body_bytes", int64(64<<10))

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Automation.MinInterval <= 0 {
		return fmt.Errorf("automation.min_interval must be greater than zero")
	}
	if !common.IsHexAddress(c.Automation.Caller) {
		return fmt.Errorf("automation.caller %q is not an address", c.Automation.Caller)
	}

	switch c.Oracle.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for oracle.store=postgres")
		}
	default:
		return fmt.Errorf("oracle.store %q must be memory or postgres", c.Oracle.Store)
	}
	if _, err := report.ParseID(c.Oracle.PoolID); err != nil {
		return fmt.Errorf("oracle.pool_id: %w", err)
	}
	if _, err := report.ParseID(c.Oracle.AssetID); err != nil {
		return fmt.Errorf("oracle.asset_id: %w", err)
	}
	if !common.IsHexAddress(c.Oracle.Admin) {
		return fmt.Errorf("oracle.admin %q is not an address", c.Oracle.Admin)
	}
	if _, err := ParseAddresses("oracle.updaters", c.Oracle.Updaters); err != nil {
		return err
	}
	if _, err := ParseAddresses("oracle.trusted_attestors", c.Oracle.TrustedAttestors); err != nil {
		return err
	}

	switch c.Provider.Kind {
	case ProviderStatic:
		if _, _, err := c.Provider.Static.Values(); err != nil {
			return err
		}
	case ProviderHTTP:
		if c.Provider.HTTP.BaseURL == "" {
			return fmt.Errorf("provider.http.base_url is required")
		}
	case ProviderChainlink:
		cl := c.Provider.Chainlink
		if cl.RPCURL == "" {
			return fmt.Errorf("provider.chainlink.rpc_url is required")
		}
		if !common.IsHexAddress(cl.NAVFeed) || !common.IsHexAddress(cl.ReserveFeed) {
			return fmt.Errorf("provider.chainlink nav_feed and reserve_feed must be addresses")
		}
	default:
		return fmt.Errorf("provider.kind %q must be static, http or chainlink", c.Provider.Kind)
	}

	switch c.Workflow.Ledger {
	case LedgerLocal:
		if !common.IsHexAddress(c.Workflow.LocalCaller) {
			return fmt.Errorf("workflow.local_caller %q is not an address", c.Workflow.LocalCaller)
		}
	case LedgerEVM:
		if c.Workflow.TransactorKey == "" {
			return fmt.Errorf("workflow.transactor_key is required for workflow.ledger=evm")
		}
		if !common.IsHexAddress(c.Workflow.Receiver) {
			return fmt.Errorf("workflow.receiver %q is not an address", c.Workflow.Receiver)
		}
	default:
		return fmt.Errorf("workflow.ledger %q must be local or evm", c.Workflow.Ledger)
	}
	if c.Workflow.Receiver != "" && !common.IsHexAddress(c.Workflow.Receiver) {
		return fmt.Errorf("workflow.receiver %q is not an address", c.Workflow.Receiver)
	}
	if c.Workflow.GasLimit == 0 {
		return fmt.Errorf("workflow.gas_limit must be greater than zero")
	}
	if _, err := report.ReportIDFunc(c.Workflow.ReportIDScheme); err != nil {
		return fmt.Errorf("workflow.report_id_scheme: %w", err)
	}

	if _, err := ParseAddresses("vault.verified", c.Vault.Verified); err != nil {
		return err
	}
	if c.Vault.ShareToken != "" {
		if !common.IsHexAddress(c.Vault.ShareToken) {
			return fmt.Errorf("vault.share_token %q is not an address", c.Vault.ShareToken)
		}
		if c.Vault.RPCURL == "" {
			return fmt.Errorf("vault.rpc_url is required with vault.share_token")
		}
	}
	if _, err := parseAmount("vault.monitor_shares", c.Vault.MonitorShares); err != nil {
		return err
	}
	if c.Trigger.Enabled && c.Trigger.ListenAddr == "" {
		return fmt.Errorf("trigger.listen_addr is required when the trigger is enabled")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// IDs returns the parsed pool and asset identifiers. Call after Validate.
func (c OracleConfig) IDs() (pool, asset common.Hash) {
	pool, _ = report.ParseID(c.PoolID)
	asset, _ = report.ParseID(c.AssetID)
	return pool, asset
}

// Values parses the static provider values.
func (c StaticProviderConfig) Values() (nav, reserve *big.Int, err error) {
	if nav, err = parseAmount("provider.static.nav", c.NAV); err != nil {
		return nil, nil, err
	}
	if reserve, err = parseAmount("provider.static.reserve", c.Reserve); err != nil {
		return nil, nil, err
	}
	return nav, reserve, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer, got %q", field, raw)
	}
	return v, nil
}

// MonitorSupply parses vault.monitor_shares. Call after Validate.
func (c VaultConfig) MonitorSupply() *big.Int {
	v, _ := parseAmount("vault.monitor_shares", c.MonitorShares)
	return v
}

// ParseAddresses validates a list of hex addresses.
func ParseAddresses(field string, raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%s: %q is not an address", field, s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

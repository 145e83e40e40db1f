package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"aura-oracle/internal/access"
	"aura-oracle/internal/alerting"
	"aura-oracle/internal/automation"
	"aura-oracle/internal/chain"
	"aura-oracle/internal/config"
	"aura-oracle/internal/oracle"
	"aura-oracle/internal/provider"
	"aura-oracle/internal/report"
	"aura-oracle/internal/scheduler"
	"aura-oracle/internal/service"
	"aura-oracle/internal/storage"
	"aura-oracle/internal/trigger"
	"aura-oracle/internal/vault"
	"aura-oracle/internal/workflow"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// components is the wired pipeline shared by every command.
type components struct {
	store       *storage.Store
	registry    oracle.Registry
	acl         *access.ACL
	coordinator *oracle.Coordinator
	upkeep      *automation.Facade
	submitter   *workflow.Submitter
	gate        *vault.Gate
	relay       *relay
	poolID      common.Hash
	assetID     common.Hash
	close       func()
}

func (a *App) build(ctx context.Context) (*components, error) {
	cfg := a.Config
	c := &components{close: func() {}, relay: &relay{}}
	c.poolID, c.assetID = cfg.Oracle.IDs()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		c.store = store
		c.close = closeStore
		c.registry = store
	} else {
		a.Logger.Warn().Msg("oracle.store=memory; records are lost on exit")
		c.registry = oracle.NewMemoryRegistry()
	}

	fail := func(err error) (*components, error) {
		c.close()
		return nil, err
	}

	if c.acl, err = a.newACL(); err != nil {
		return fail(err)
	}

	prov, err := a.newProvider()
	if err != nil {
		return fail(err)
	}

	trusted, err := config.ParseAddresses("oracle.trusted_attestors", cfg.Oracle.TrustedAttestors)
	if err != nil {
		return fail(err)
	}
	c.coordinator, err = oracle.NewCoordinator(oracle.Config{
		Registry:         c.registry,
		Provider:         prov,
		ACL:              c.acl,
		PoolID:           c.poolID,
		AssetID:          c.assetID,
		TrustedAttestors: trusted,
		RejectStale:      cfg.Oracle.RejectStale,
		Listener:         c.relay,
	}, a.Logger)
	if err != nil {
		return fail(fmt.Errorf("create coordinator: %w", err))
	}

	autoOpts := automation.Options{
		Name:        cfg.Automation.Name,
		MinInterval: cfg.Automation.MinInterval,
		Caller:      common.HexToAddress(cfg.Automation.Caller),
	}
	if c.store != nil {
		autoOpts.State = c.store
	}
	if c.upkeep, err = automation.New(autoOpts, c.coordinator, a.Logger); err != nil {
		return fail(fmt.Errorf("create automation facade: %w", err))
	}

	if c.submitter, err = a.newSubmitter(c); err != nil {
		return fail(err)
	}

	c.gate = vault.NewGate(c.coordinator, c.poolID, c.assetID)
	return c, nil
}

// relay forwards report acceptances to a listener attached after the
// coordinator is built. target is set before any report can be processed.
type relay struct {
	target oracle.Listener
}

func (r *relay) ReportAccepted(ctx context.Context, a oracle.Acceptance) {
	if r.target != nil {
		r.target.ReportAccepted(ctx, a)
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Oracle.Store != config.StorePostgres || a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newACL grants the updater capability to configured updaters and to the
// local ledger identity, and the automation capability to the facade.
func (a *App) newACL() (*access.ACL, error) {
	cfg := a.Config
	admin := common.HexToAddress(cfg.Oracle.Admin)
	acl := access.NewACL(admin)

	updaters, err := config.ParseAddresses("oracle.updaters", cfg.Oracle.Updaters)
	if err != nil {
		return nil, err
	}
	if cfg.Workflow.Ledger == config.LedgerLocal {
		updaters = append(updaters, common.HexToAddress(cfg.Workflow.LocalCaller))
	}
	for _, u := range updaters {
		if err := acl.Grant(admin, access.OracleUpdater, u); err != nil {
			return nil, fmt.Errorf("grant updater %s: %w", u.Hex(), err)
		}
	}
	if err := acl.Grant(admin, access.Automation, common.HexToAddress(cfg.Automation.Caller)); err != nil {
		return nil, fmt.Errorf("grant automation: %w", err)
	}
	return acl, nil
}

func (a *App) newProvider() (provider.Provider, error) {
	p := a.Config.Provider
	switch p.Kind {
	case config.ProviderHTTP:
		return provider.NewHTTP(provider.HTTPOptions{
			BaseURL:   p.HTTP.BaseURL,
			APIKey:    p.HTTP.APIKey,
			Timeout:   p.HTTP.RequestTimeout,
			UserAgent: p.HTTP.UserAgent,
		}, a.Logger), nil
	case config.ProviderChainlink:
		return provider.NewChainlink(provider.ChainlinkOptions{
			RPCURL:      p.Chainlink.RPCURL,
			NAVFeed:     p.Chainlink.NAVFeed,
			ReserveFeed: p.Chainlink.ReserveFeed,
			MaxAge:      p.Chainlink.MaxAge,
			Timeout:     p.Chainlink.RequestTimeout,
		}, a.Logger), nil
	default:
		nav, reserve, err := p.Static.Values()
		if err != nil {
			return nil, err
		}
		return provider.NewStatic(nav, reserve), nil
	}
}

func (a *App) newAttestor() (*report.Attestor, error) {
	key := a.Config.Workflow.AttestationKey
	if key != "" {
		attestor, err := report.NewAttestor(key)
		if err != nil {
			return nil, fmt.Errorf("load attestation key: %w", err)
		}
		return attestor, nil
	}

	ephemeral, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate attestation key: %w", err)
	}
	attestor := report.NewAttestorFromKey(ephemeral)
	a.Logger.Warn().Str("attestor", attestor.Address().Hex()).Msg("workflow.attestation_key not configured; using an ephemeral key")
	return attestor, nil
}

func (a *App) newLedger(c *components) (workflow.Ledger, error) {
	wf := a.Config.Workflow
	if wf.Ledger == config.LedgerEVM {
		ledger, err := chain.NewEVMLedger(chain.Options{
			PrivateKey:   wf.TransactorKey,
			PollInterval: wf.PollInterval,
			Timeout:      wf.ReceiptTimeout,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.Logger.Info().Str("from", ledger.From().Hex()).Msg("evm ledger ready")
		return ledger, nil
	}
	return workflow.NewLocalLedger(c.coordinator, common.HexToAddress(wf.LocalCaller), a.Logger), nil
}

func (a *App) newSubmitter(c *components) (*workflow.Submitter, error) {
	attestor, err := a.newAttestor()
	if err != nil {
		return nil, err
	}
	ledger, err := a.newLedger(c)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]workflow.Network, len(a.Config.Networks))
	for name, n := range a.Config.Networks {
		overrides[name] = workflow.Network{Selector: n.Selector, ChainID: n.ChainID, RPCURL: n.RPCURL, Testnet: n.Testnet}
	}

	var opts []workflow.Option
	if c.store != nil {
		opts = append(opts, workflow.WithJournal(c.store))
	}

	wf := a.Config.Workflow
	var receiver common.Address
	if wf.Receiver != "" {
		receiver = common.HexToAddress(wf.Receiver)
	}
	return workflow.NewSubmitter(workflow.Config{
		ChainSelectorName: wf.ChainSelectorName,
		Receiver:          receiver,
		PoolID:            c.poolID,
		AssetID:           c.assetID,
		GasLimit:          wf.GasLimit,
		ReportIDScheme:    wf.ReportIDScheme,
	}, workflow.NewNetworks(overrides), attestor, ledger, a.Logger, opts...)
}

// newSupply picks the share supply the daemon monitors.
func (a *App) newSupply() (vault.SupplySource, error) {
	v := a.Config.Vault
	if v.ShareToken != "" {
		return chain.NewTokenSupply(v.RPCURL, common.HexToAddress(v.ShareToken), 10*time.Second, nil), nil
	}
	shares, overflow := uint256.FromBig(v.MonitorSupply())
	if overflow {
		return nil, errors.New("vault.monitor_shares exceeds 256 bits")
	}
	return vault.StaticSupply{Shares: shares}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

// Run executes the long-running daemon: scheduled upkeep, solvency
// monitoring and, when enabled, the HTTP trigger.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	supply, err := a.newSupply()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)

	var locker storage.AdvisoryLocker
	if c.store != nil {
		locker = c.store
	}

	svc := service.New(service.Options{
		PoolID:        c.poolID,
		AssetID:       c.assetID,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
		AlertsEnabled: a.Config.Alerting.Enabled,
		AlertCooldown: a.Config.Alerting.Cooldown,
		Channels:      a.Config.Alerting.Channels,
	}, sched, c.upkeep, vault.NewMonitor(c.gate, supply), locker, a.newNotifier(), a.Logger)
	c.relay.target = svc

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- svc.Run(ctx) }()

	if a.Config.Trigger.Enabled {
		t := a.Config.Trigger
		srv := trigger.New(trigger.Options{
			Addr:         t.ListenAddr,
			ReadTimeout:  t.ReadTimeout,
			WriteTimeout: t.WriteTimeout,
			MaxBodyBytes: t.MaxBodyBytes,
		}, c.submitter, a.Logger)
		running++
		go func() { errCh <- srv.Run(ctx) }()
	}

	a.Logger.Info().Hex("pool_id", c.poolID.Bytes()).Hex("asset_id", c.assetID.Bytes()).Msg("starting oracle service")

	var runErr error
	for i := 0; i < running; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
			runErr = err
			cancel()
		}
	}
	if runErr != nil {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("oracle service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the submission journal.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"aura-oracle/internal/alerting"
	"aura-oracle/internal/automation"
	"aura-oracle/internal/config"
	"aura-oracle/internal/report"
	"aura-oracle/internal/vault"
)

// SimulateDepositOptions configure a dry-run of vault deposits against the
// current oracle records.
type SimulateDepositOptions struct {
	// Assets per deposit, in whole units.
	Assets   decimal.Decimal
	Receiver common.Address
	Count    int
	// Refresh runs one upkeep before depositing so an empty store is seeded
	// from the provider.
	Refresh bool
}

// SimulateDeposit runs Count deposits into an in-process vault whose gate
// reads the configured oracle stores. It stops at the first rejected
// deposit and reports why.
func (a *App) SimulateDeposit(ctx context.Context, opts SimulateDepositOptions, out io.Writer) error {
	assets, err := toUnits(opts.Assets)
	if err != nil {
		return err
	}
	if opts.Count <= 0 {
		opts.Count = 1
	}

	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	verified, err := config.ParseAddresses("vault.verified", a.Config.Vault.Verified)
	if err != nil {
		return err
	}
	if opts.Refresh {
		r, err := c.upkeep.PerformUpkeep(ctx)
		switch {
		case errors.Is(err, automation.ErrTooSoon):
			fmt.Fprintf(out, "refresh skipped: %v\n", err)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "refreshed: nav %s reserve %s at %d\n", report.FormatScaled(r.NAV), report.FormatScaled(r.Reserve), r.Timestamp)
		}
	}

	v := vault.New(c.coordinator, c.poolID, c.assetID, vault.NewAllowList(verified...), a.Logger)

	for i := 1; i <= opts.Count; i++ {
		shares, err := v.Deposit(ctx, assets, opts.Receiver)
		if err != nil {
			status, statusErr := v.Status(ctx)
			if statusErr == nil {
				fmt.Fprintf(out, "deposit %d rejected: %v (reserve %s, liability %s)\n", i, err, fmtWad(status.Reserve), fmtWad(status.Liability))
			} else {
				fmt.Fprintf(out, "deposit %d rejected: %v\n", i, err)
			}
			return err
		}
		fmt.Fprintf(out, "deposit %d: assets %s -> shares %s (total shares %s)\n",
			i, fmtWad(assets), fmtWad(shares), fmtWad(v.TotalShares()))
	}
	return nil
}

// SimulateAlert 发送一条模拟的系统暂停告警，用于验证告警通道配置。
func (a *App) SimulateAlert(ctx context.Context, reserve, liability decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if !a.Config.Alerting.Telegram.Enabled {
		return errors.New("未配置任何告警通道")
	}

	poolID, assetID := a.Config.Oracle.IDs()
	now := time.Now().UTC()
	note := alerting.Notification{
		Kind:             alerting.KindGateClosed,
		At:               now,
		PoolID:           poolID,
		AssetID:          assetID,
		NAV:              decimal.NewFromInt(1),
		Reserve:          reserve,
		Liability:        liability,
		TotalShares:      liability,
		NAVTimestamp:     uint64(now.Unix()),
		ReserveTimestamp: uint64(now.Unix()),
		Reason:           "simulated",
		Channels:         a.Config.Alerting.Channels,
		AdditionalMsg:    "simulated alert",
	}
	return a.newNotifier().Notify(ctx, note)
}

// toUnits converts whole units to an 18-decimal uint256.
func toUnits(d decimal.Decimal) (*uint256.Int, error) {
	if d.Sign() <= 0 {
		return nil, errors.New("amount must be greater than zero")
	}
	scaled := d.Shift(report.Scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", d, report.Scale)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s exceeds 256 bits", d)
	}
	return v, nil
}

func fmtWad(v *uint256.Int) string {
	if v == nil {
		return "-"
	}
	return report.FormatScaled(v.ToBig())
}

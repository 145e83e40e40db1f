package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/holiman/uint256"

	"aura-oracle/internal/report"
	"aura-oracle/internal/vault"
)

// Submit runs one workflow invocation with the given trigger payload.
func (a *App) Submit(ctx context.Context, payload []byte, out io.Writer) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	txHash, err := c.submitter.Submit(ctx, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tx_hash: %s\n", txHash.Hex())
	return nil
}

// Upkeep performs one scheduled update through the automation facade.
func (a *App) Upkeep(ctx context.Context, out io.Writer) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	r, err := c.upkeep.PerformUpkeep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "nav: %s\nreserve: %s\ntimestamp: %d\nreport_id: %s\n",
		report.FormatScaled(r.NAV), report.FormatScaled(r.Reserve), r.Timestamp, r.ReportID.Hex())
	return nil
}

// SolvencyOptions configure the solvency command.
type SolvencyOptions struct {
	// Shares overrides the configured supply source when non-nil.
	Shares *uint256.Int
}

// Solvency evaluates the gate once and prints its inputs.
func (a *App) Solvency(ctx context.Context, opts SolvencyOptions, out io.Writer) error {
	c, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	var supply vault.SupplySource = vault.StaticSupply{Shares: opts.Shares}
	if opts.Shares == nil {
		if supply, err = a.newSupply(); err != nil {
			return err
		}
	}

	status, err := vault.NewMonitor(c.gate, supply).Status(ctx)
	if err != nil {
		return err
	}

	state := "OPEN"
	if !status.Open {
		state = "PAUSED"
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Gate\t%s\n", state)
	if status.Reason != "" {
		fmt.Fprintf(writer, "Reason\t%s\n", status.Reason)
	}
	fmt.Fprintf(writer, "NAV\t%s\t(ts %d)\n", fmtWad(status.NAV), status.NAVTimestamp)
	fmt.Fprintf(writer, "Reserve\t%s\t(ts %d)\n", fmtWad(status.Reserve), status.ReserveTimestamp)
	fmt.Fprintf(writer, "Total shares\t%s\n", fmtWad(status.TotalShares))
	fmt.Fprintf(writer, "Liability\t%s\n", fmtWad(status.Liability))
	return writer.Flush()
}

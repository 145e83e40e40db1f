package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"aura-oracle/internal/oracle"
	"aura-oracle/internal/report"
	"aura-oracle/internal/storage"
)

// Show prints the latest NAV and PoR records followed by recent submissions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	poolID, assetID := a.Config.Oracle.IDs()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "Record\tKey\tValue\tReport TS\tReport ID\tSource\tUpdated (UTC)")
	for _, item := range []struct {
		name  string
		fetch func() (storage.OracleRow, error)
	}{
		{"NAV", func() (storage.OracleRow, error) { return store.NavRow(ctx, poolID) }},
		{"PoR", func() (storage.OracleRow, error) { return store.ReserveRow(ctx, assetID) }},
	} {
		row, err := item.fetch()
		if errors.Is(err, oracle.ErrNotFound) {
			fmt.Fprintf(writer, "%s\t-\tnot set\t-\t-\t-\t-\n", item.name)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			item.name,
			shortHex(row.Key.Hex()),
			report.FormatScaled(row.Value),
			row.Timestamp,
			shortHex(row.ReportID.Hex()),
			row.Source,
			row.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()

	subs, err := store.ListRecentSubmissions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	return writeSubmissions(os.Stdout, subs)
}

func writeSubmissions(out io.Writer, subs []storage.SubmissionRecord) error {
	if len(subs) == 0 {
		fmt.Fprintln(out, "no submissions found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Submitted (UTC)\tNetwork\tNAV\tReserve\tReport TS\tStatus\tTx\tError")
	for _, sub := range subs {
		errMsg := ""
		if sub.Error != nil {
			errMsg = sanitizeInline(*sub.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			sub.SubmittedAt.UTC().Format(time.RFC3339),
			sub.Network,
			formatDecimal(sub.NAVDecimal(), 6),
			formatDecimal(sub.ReserveDecimal(), 2),
			sub.ReportTimestamp,
			sub.Status,
			shortHex(sub.TxHash.Hex()),
			errMsg,
		)
	}
	return writer.Flush()
}

func shortHex(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"aura-oracle/internal/storage"
	"aura-oracle/internal/workflow"
)

// Export renders the submission journal as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	subs, err := store.ListSubmissionsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		a.Logger.Info().Msg("no submissions found for export window")
		return nil
	}

	downsampled := downsample(subs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(subs)).Int("exported", len(downsampled)).Msg("exporting submissions")

	if opts.CSVPath != "" {
		if err := writeSubmissionsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSubmissionsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsample(subs []storage.SubmissionRecord, max int) []storage.SubmissionRecord {
	if max <= 0 || len(subs) <= max {
		return subs
	}
	if max == 1 {
		return subs[len(subs)-1:]
	}

	result := make([]storage.SubmissionRecord, 0, max)
	step := float64(len(subs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(subs) {
			idx = len(subs) - 1
		}
		result = append(result, subs[idx])
	}
	return result
}

func writeSubmissionsCSV(path string, subs []storage.SubmissionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"submitted_at", "report_id", "pool_id", "asset_id", "nav", "reserve", "report_ts", "network", "receiver", "tx_hash", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sub := range subs {
		errMsg := ""
		if sub.Error != nil {
			errMsg = *sub.Error
		}
		record := []string{
			sub.SubmittedAt.UTC().Format(time.RFC3339),
			sub.ReportID.Hex(),
			sub.PoolID.Hex(),
			sub.AssetID.Hex(),
			sub.NAVDecimal().String(),
			sub.ReserveDecimal().String(),
			strconv.FormatUint(sub.ReportTimestamp, 10),
			sub.Network,
			sub.Receiver,
			sub.TxHash.Hex(),
			sub.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSubmissionsPNG charts NAV on the primary axis and reserve on the
// secondary axis. Only successful submissions are plotted.
func writeSubmissionsPNG(path string, subs []storage.SubmissionRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		x       []time.Time
		nav     []float64
		reserve []float64
	)
	for _, sub := range subs {
		if sub.Status != string(workflow.StatusSuccess) {
			continue
		}
		x = append(x, sub.SubmittedAt)
		nav = append(nav, sub.NAVDecimal().InexactFloat64())
		reserve = append(reserve, sub.ReserveDecimal().InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("need at least two successful submissions to chart")
	}

	navFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	reserveFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "NAV per share",
			ValueFormatter: navFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Reserve",
			ValueFormatter: reserveFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "NAV",
				XValues: x,
				YValues: nav,
			},
			chart.TimeSeries{
				Name:    "Reserve",
				XValues: x,
				YValues: reserve,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

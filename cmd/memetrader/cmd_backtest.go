package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"memetrader/internal/app"
	"memetrader/internal/backtest"
	"memetrader/internal/dataset"
)

var (
	btDataset     string
	btOut         string
	btFromArchive bool
	btStart       int64
	btEnd         int64
	btStrict      bool
)

var backtestCmd = &cobra.Command{
	Use:   "hf-backtest",
	Short: "Replay a historical dataset through the pipeline",
	Long: `Replay a historical dataset through the same pipeline a live run uses.

The dataset is a snapshots.jsonl file (for example one captured by mock-e2e
--capture), a candle file (.jsonl, .jsonl.gz, .json, .csv) or a directory of
candle files, one trading pair per file. With --from-archive the snapshots are
read from the ClickHouse archive instead.

The run id derives from the configuration and the dataset, so rerunning the
same inputs writes to the same directory and produces identical files.`,
	Example: `  memetrader hf-backtest --dataset data/pairs/ --out runs
  memetrader hf-backtest --dataset runs/live-1234/snapshots.jsonl
  CLICKHOUSE_DSN=clickhouse://localhost:9000/memetrader memetrader hf-backtest --from-archive --start 1700000000000 --end 1700086400000`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVar(&btDataset, "dataset", "", "Dataset file or directory")
	backtestCmd.Flags().StringVar(&btOut, "out", "runs", "Parent directory of the run directory")
	backtestCmd.Flags().BoolVar(&btFromArchive, "from-archive", false, "Read snapshots from the ClickHouse archive")
	backtestCmd.Flags().Int64Var(&btStart, "start", 0, "Archive range start (ms)")
	backtestCmd.Flags().Int64Var(&btEnd, "end", 0, "Archive range end (ms, inclusive)")
	backtestCmd.Flags().BoolVar(&btStrict, "strict", false, "Abort when the dataset fails sufficiency checks")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	if btDataset == "" && !btFromArchive {
		return errors.New("--dataset or --from-archive is required")
	}

	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signalContext()
	defer stop()

	res, err := app.OpenStores(ctx, e.cfg, e.metrics)
	if err != nil {
		return err
	}
	defer res.Close()

	ds, err := loadDataset(ctx, res, e.cfg.Dataset)
	if err != nil {
		return err
	}

	suff := dataset.CheckSufficiency(ds, dataset.DefaultThresholds())
	for _, c := range suff.Checks {
		if !c.Pass {
			e.logger.Warn().Str("check", c.Name).Str("threshold", c.Threshold).Str("actual", c.Actual).Msg("dataset insufficient")
		}
	}
	if btStrict && !suff.AllPass {
		return errors.New("dataset failed sufficiency checks")
	}

	runner, err := backtest.NewRunner(e.cfg.Pipeline,
		backtest.WithConfigHash(e.hash),
		backtest.WithMirrors(res.Mirrors...),
		backtest.WithFsync(e.cfg.Live.Fsync),
		backtest.WithLogger(e.logger),
		backtest.WithMetrics(e.metrics),
	)
	if err != nil {
		return err
	}

	dir := filepath.Join(btOut, runner.RunID(ds))
	summary, runErr := runner.Run(ctx, ds, dir)
	fmt.Fprintf(os.Stderr, "run directory: %s\n", dir)
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	return runErr
}

func loadDataset(ctx context.Context, res *app.Resources, candles dataset.CandleConfig) (*dataset.Dataset, error) {
	if !btFromArchive {
		return dataset.Load(btDataset, candles)
	}
	if res.Archive == nil {
		return nil, errors.New("--from-archive requires CLICKHOUSE_DSN")
	}
	end := btEnd
	if end == 0 {
		end = 1<<63 - 1
	}
	records, err := res.Archive.GetSnapshots(ctx, btStart, end)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return dataset.New(fmt.Sprintf("clickhouse:%d-%d", btStart, end), records)
}

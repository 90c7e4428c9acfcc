package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"memetrader/internal/app"
	"memetrader/internal/live"
	"memetrader/internal/server"
)

var (
	liveOut      string
	liveRunID    string
	liveTicks    int
	liveInterval time.Duration
	liveCapture  bool
	liveAddr     string
)

var liveCmd = &cobra.Command{
	Use:   "mock-e2e",
	Short: "Run the live poll loop",
	Long: `Run the live poll loop against the configured providers (mock by default).

Each tick evaluates every candidate of the universe, records decisions and
trades, and applies queued acknowledgments at the next tick boundary. On
interrupt or after --ticks ticks, open positions are liquidated at their last
price and run_summary.json is written.`,
	Example: `  # Ten ticks against the seeded mock, one second apart
  memetrader mock-e2e --ticks 10 --interval 1s

  # Real providers, capture snapshots for a later backtest, control API on :8080
  MARKET_DATA=birdeye CHAIN_INTEL=helius memetrader mock-e2e --capture --addr :8080`,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().StringVar(&liveOut, "out", "runs", "Parent directory of the run directory")
	liveCmd.Flags().StringVar(&liveRunID, "run-id", "", "Run id (default live-<uuid>)")
	liveCmd.Flags().IntVar(&liveTicks, "ticks", -1, "Stop after this many ticks, 0 runs until interrupted (default from config)")
	liveCmd.Flags().DurationVar(&liveInterval, "interval", 0, "Tick interval (default from config)")
	liveCmd.Flags().BoolVar(&liveCapture, "capture", false, "Write snapshots.jsonl for replay")
	liveCmd.Flags().StringVar(&liveAddr, "addr", "", "Control API address (overrides SERVER_ADDR)")
}

func runLive(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	cfg := e.cfg
	if liveTicks >= 0 {
		cfg.Live.MaxTicks = liveTicks
	}
	if liveInterval > 0 {
		cfg.Live.Interval = liveInterval
	}
	if liveCapture {
		cfg.Live.Capture = true
	}
	if liveAddr != "" {
		cfg.Server.Addr = liveAddr
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := app.Open(ctx, cfg, e.logger, e.metrics)
	if err != nil {
		return err
	}
	defer res.Close()

	ticks, stopTicks, err := app.TickSource(ctx, cfg, e.logger)
	if err != nil {
		return err
	}
	defer stopTicks()

	runID := liveRunID
	if runID == "" {
		runID = "live-" + uuid.NewString()
	}
	dir := filepath.Join(liveOut, runID)

	runner, err := live.New(cfg.Pipeline, res.Providers, ticks, live.Options{
		Dir:        dir,
		ConfigHash: e.hash,
		RunID:      runID,
		Capture:    cfg.Live.Capture,
		Fsync:      cfg.Live.Fsync,
		MaxTicks:   cfg.Live.MaxTicks,
		Mirrors:    res.Mirrors,
		Archive:    res.SnapshotSink(),
		Logger:     e.logger,
		Metrics:    e.metrics,
	})
	if err != nil {
		return err
	}

	srvDone := make(chan error, 1)
	srvCtx, stopSrv := context.WithCancel(ctx)
	defer stopSrv()
	if cfg.Server.Addr != "" {
		srv := server.New(cfg.Server.Addr, runner,
			server.WithLogger(e.logger.With().Str("component", "api").Logger()),
			server.WithMetrics(e.metrics),
		)
		go func() { srvDone <- srv.Run(srvCtx) }()
	} else {
		srvDone <- nil
	}

	summary, runErr := runner.Run(ctx)
	stopSrv()
	if err := <-srvDone; err != nil {
		e.logger.Error().Err(err).Msg("control api failed")
	}

	fmt.Fprintf(os.Stderr, "run directory: %s\n", dir)
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	return runErr
}

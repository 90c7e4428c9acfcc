// Package live runs the pipeline against real or mock providers on a
// wall-clock cadence.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"memetrader/internal/domain"
	"memetrader/internal/observability"
	"memetrader/internal/pipeline"
	"memetrader/internal/provider"
	"memetrader/internal/recorder"
)

// Providers are the feeds and candidate source of a live run.
type Providers struct {
	Market   provider.MarketProvider
	Chain    provider.ChainProvider
	Universe provider.Universe
}

// Runner owns one live run from open to summary.
type Runner struct {
	pipe     *pipeline.Pipeline
	prov     Providers
	ticks    TickSource
	clock    func() time.Time
	maxTicks int
	runID    string
	meta     domain.RunSummary
	logger   zerolog.Logger

	candidates []domain.Candidate // last good universe
}

// Options configures a Runner.
type Options struct {
	Dir        string
	ConfigHash string
	RunID      string // defaults to a random id
	Capture    bool   // write snapshots.jsonl
	Fsync      bool
	MaxTicks   int // 0 runs until cancelled
	Clock      func() time.Time
	Mirrors    []recorder.Sink
	Archive    recorder.SnapshotSink
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

// New opens the run directory and wires the pipeline. The runner is
// ready to accept acknowledgments before Run is called.
func New(cfg pipeline.Config, prov Providers, ticks TickSource, opts Options) (*Runner, error) {
	if prov.Market == nil || prov.Chain == nil || prov.Universe == nil {
		return nil, &domain.ConfigurationError{Field: "providers", Reason: "market, chain and universe are required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = "live-" + uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger.With().Str("run_id", opts.RunID).Logger()

	rec, err := recorder.Open(recorder.Options{
		Dir:              opts.Dir,
		RunID:            opts.RunID,
		Fsync:            opts.Fsync,
		CaptureSnapshots: opts.Capture,
		Mirrors:          opts.Mirrors,
		Archive:          opts.Archive,
		Logger:           logger,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(cfg, prov.Market, prov.Chain, rec,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(opts.Metrics),
	)
	if err != nil {
		_, _ = rec.Finish(context.Background(), domain.RunSummary{RunID: opts.RunID})
		return nil, err
	}

	return &Runner{
		pipe:     pipe,
		prov:     prov,
		ticks:    ticks,
		clock:    opts.Clock,
		maxTicks: opts.MaxTicks,
		runID:    opts.RunID,
		logger:   logger,
		meta: domain.RunSummary{
			RunID:          opts.RunID,
			ConfigHash:     opts.ConfigHash,
			MarketProvider: prov.Market.Name(),
			ChainProvider:  prov.Chain.Name(),
			TradingMode:    string(cfg.Execution.Mode),
		},
	}, nil
}

// RunID returns the run id.
func (r *Runner) RunID() string { return r.runID }

// Enqueue queues an acknowledgment for the next tick.
func (r *Runner) Enqueue(ack pipeline.Ack) { r.pipe.Enqueue(ack) }

// View returns state as of the last completed tick.
func (r *Runner) View() pipeline.View { return r.pipe.View() }

// IsPending reports whether tradeID awaits acknowledgment.
func (r *Runner) IsPending(tradeID string) bool { return r.pipe.IsPending(tradeID) }

// Run ticks until ctx is cancelled, MaxTicks is reached or the tick source
// fails. Positions are then liquidated and the summary written; the
// summary is returned in every case.
func (r *Runner) Run(ctx context.Context) (domain.RunSummary, error) {
	r.logger.Info().
		Str("market", r.meta.MarketProvider).
		Str("chain", r.meta.ChainProvider).
		Str("mode", r.meta.TradingMode).
		Msg("live run started")

	var (
		runErr error
		ticks  int
	)
	for r.maxTicks == 0 || ticks < r.maxTicks {
		if err := r.ticks.Wait(ctx); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				runErr = fmt.Errorf("tick source: %w", err)
			}
			break
		}

		ts := r.clock().UnixMilli()
		if last := r.pipe.LastTimestamp(); ticks > 0 && ts <= last {
			ts = last + 1
		}
		if ticks == 0 {
			r.meta.StartedAt = ts
		}

		if err := r.pipe.Tick(ctx, ts, r.universe(ctx)); err != nil {
			runErr = err
			break
		}
		ticks++
	}

	r.meta.EndedAt = max(r.pipe.LastTimestamp(), r.meta.StartedAt)
	if ticks == 0 {
		r.meta.StartedAt = r.clock().UnixMilli()
		r.meta.EndedAt = r.meta.StartedAt
	}
	summary, err := r.pipe.Finish(context.WithoutCancel(ctx), r.meta)
	if runErr != nil {
		return summary, runErr
	}
	return summary, err
}

// universe returns the current candidates, falling back to the last good
// list when the source fails.
func (r *Runner) universe(ctx context.Context) []domain.Candidate {
	cands, err := r.prov.Universe.Candidates(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Int("fallback", len(r.candidates)).Msg("universe unavailable")
		return r.candidates
	}
	r.candidates = cands
	return cands
}

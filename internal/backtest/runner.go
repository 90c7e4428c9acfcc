// Package backtest replays a historical dataset through the same pipeline
// a live run uses.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/idhash"
	"memetrader/internal/observability"
	"memetrader/internal/pipeline"
	"memetrader/internal/recorder"
)

// Runner executes backtests. The wall clock is never read: run id, start
// and end times derive from the config and the dataset.
type Runner struct {
	cfg        pipeline.Config
	configHash string
	mirrors    []recorder.Sink
	fsync      bool
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfigHash sets the hash recorded in the summary and used for the
// run id. Defaults to a hash of the pipeline config.
func WithConfigHash(h string) Option {
	return func(r *Runner) {
		r.configHash = h
	}
}

// WithMirrors adds recorder mirror sinks.
func WithMirrors(sinks ...recorder.Sink) Option {
	return func(r *Runner) {
		r.mirrors = append(r.mirrors, sinks...)
	}
}

// WithFsync syncs artifact files after every record.
func WithFsync(on bool) Option {
	return func(r *Runner) {
		r.fsync = on
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a backtest runner. Replay fetches never time out, so
// results do not depend on machine speed.
func NewRunner(cfg pipeline.Config, opts ...Option) (*Runner, error) {
	cfg.Snapshot.Timeout = 0
	r := &Runner{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r.configHash == "" {
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("hash config: %w", err)
		}
		r.configHash = idhash.ComputeConfigHash(b)
	}
	return r, nil
}

// RunID returns the deterministic run id for ds.
func (r *Runner) RunID(ds *dataset.Dataset) string {
	return idhash.ComputeRunID(r.configHash, ds.Digest)
}

// Run replays ds tick by tick and writes artifacts to dir. Cancellation
// stops at a tick boundary; remaining positions are liquidated and the
// summary is still written.
func (r *Runner) Run(ctx context.Context, ds *dataset.Dataset, dir string) (domain.RunSummary, error) {
	runID := r.RunID(ds)
	logger := r.logger.With().Str("run_id", runID).Logger()

	rec, err := recorder.Open(recorder.Options{
		Dir:     dir,
		RunID:   runID,
		Fsync:   r.fsync,
		Mirrors: r.mirrors,
		Logger:  logger,
		Metrics: r.metrics,
	})
	if err != nil {
		return domain.RunSummary{}, err
	}

	replay := NewReplayProvider(ds)
	p, err := pipeline.New(r.cfg, replay, replay, rec,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(r.metrics),
	)
	if err != nil {
		_, _ = rec.Finish(context.WithoutCancel(ctx), domain.RunSummary{RunID: runID})
		return domain.RunSummary{}, err
	}

	ticks := ds.Ticks()
	startedAt, _ := ds.Span()
	logger.Info().
		Str("dataset", ds.Source).
		Int("records", len(ds.Records)).
		Int("ticks", len(ticks)).
		Msg("backtest started")

	var runErr error
	for _, tick := range ticks {
		if ctx.Err() != nil {
			logger.Warn().Int64("ts", tick.Timestamp).Msg("backtest cancelled")
			break
		}
		if err := p.Tick(ctx, tick.Timestamp, tick.Candidates()); err != nil {
			runErr = err
			break
		}
	}

	endedAt := max(p.LastTimestamp(), startedAt)
	summary, err := p.Finish(context.WithoutCancel(ctx), domain.RunSummary{
		RunID:          runID,
		ConfigHash:     r.configHash,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		MarketProvider: replay.Name(),
		ChainProvider:  replay.Name(),
		TradingMode:    string(r.cfg.Execution.Mode),
	})
	if runErr != nil {
		return summary, runErr
	}
	return summary, err
}

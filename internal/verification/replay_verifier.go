package verification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"memetrader/internal/backtest"
	"memetrader/internal/dataset"
	"memetrader/internal/pipeline"
	"memetrader/internal/recorder"
)

// ErrNoCapture is returned when a run directory holds no snapshots.jsonl.
var ErrNoCapture = errors.New("run has no captured snapshots")

// ReplayVerifier replays captured snapshots through a backtest and compares
// the result with what the run recorded.
type ReplayVerifier struct {
	cfg        pipeline.Config
	configHash string
	logger     zerolog.Logger
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Config     pipeline.Config
	ConfigHash string
	Logger     zerolog.Logger
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		cfg:        opts.Config,
		configHash: opts.ConfigHash,
		logger:     opts.Logger,
	}
}

// VerifyRun replays runDir/snapshots.jsonl and compares decisions, trades
// and summary totals line by line. The replay is written to a temporary
// directory that is removed afterwards.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runDir string) (*Report, error) {
	stored, err := LoadRun(runDir)
	if err != nil {
		return nil, err
	}

	capture := filepath.Join(runDir, recorder.SnapshotsFile)
	records, err := dataset.ReadSnapshotsFile(capture)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCapture
	}
	if err != nil {
		return nil, err
	}
	ds, err := dataset.New(capture, records)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "verify-*")
	if err != nil {
		return nil, fmt.Errorf("create replay dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	replayed, err := v.replay(ctx, ds, tmp)
	if err != nil {
		return nil, err
	}
	return compareRuns(stored, replayed), nil
}

// VerifyDeterminism runs ds twice and reports whether the artifacts are
// byte-identical.
func (v *ReplayVerifier) VerifyDeterminism(ctx context.Context, ds *dataset.Dataset) (bool, error) {
	tmp, err := os.MkdirTemp("", "determinism-*")
	if err != nil {
		return false, fmt.Errorf("create replay dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	dirs := [2]string{filepath.Join(tmp, "a"), filepath.Join(tmp, "b")}
	for _, dir := range dirs {
		if _, err := v.replay(ctx, ds, dir); err != nil {
			return false, err
		}
	}
	for _, name := range []string{recorder.DecisionsFile, recorder.TradesFile, recorder.SummaryFile} {
		a, err := os.ReadFile(filepath.Join(dirs[0], name))
		if err != nil {
			return false, err
		}
		b, err := os.ReadFile(filepath.Join(dirs[1], name))
		if err != nil {
			return false, err
		}
		if !bytes.Equal(a, b) {
			v.logger.Warn().Str("file", name).Msg("replays differ")
			return false, nil
		}
	}
	return true, nil
}

func (v *ReplayVerifier) replay(ctx context.Context, ds *dataset.Dataset, dir string) (*Run, error) {
	opts := []backtest.Option{backtest.WithLogger(v.logger)}
	if v.configHash != "" {
		opts = append(opts, backtest.WithConfigHash(v.configHash))
	}
	runner, err := backtest.NewRunner(v.cfg, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := runner.Run(ctx, ds, dir); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return LoadRun(dir)
}

func compareRuns(stored, replayed *Run) *Report {
	report := &Report{
		RunDir:            stored.Dir,
		Decisions:         len(stored.Decisions),
		Trades:            len(stored.Trades),
		ReplayedDecisions: len(replayed.Decisions),
		ReplayedTrades:    len(replayed.Trades),
	}

	for i := range min(len(stored.Decisions), len(replayed.Decisions)) {
		s := stored.Decisions[i]
		if div := CompareDecisions(s, replayed.Decisions[i]); len(div) > 0 {
			report.Mismatches = append(report.Mismatches, RecordResult{
				Kind:        "decision",
				Index:       i,
				Key:         s.CandidateID + "@" + strconv.FormatInt(s.Timestamp, 10),
				Divergences: div,
			})
		}
	}
	for i := range min(len(stored.Trades), len(replayed.Trades)) {
		s := stored.Trades[i]
		if div := CompareTrades(s, replayed.Trades[i]); len(div) > 0 {
			report.Mismatches = append(report.Mismatches, RecordResult{
				Kind:        "trade",
				Index:       i,
				Key:         s.TradeID,
				Divergences: div,
			})
		}
	}

	report.SummaryMatch = floatEquals(stored.Summary.TotalPnL, replayed.Summary.TotalPnL) &&
		maps.Equal(stored.Summary.ReasonCounts, replayed.Summary.ReasonCounts)
	return report
}

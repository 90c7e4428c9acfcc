// Package recorder writes the append-only run artifacts: decisions.jsonl,
// trades.jsonl, run_summary.json and optionally snapshots.jsonl.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"memetrader/internal/domain"
	"memetrader/internal/observability"
)

// Artifact file names.
const (
	DecisionsFile = "decisions.jsonl"
	TradesFile    = "trades.jsonl"
	SummaryFile   = "run_summary.json"
	SnapshotsFile = "snapshots.jsonl"
)

// ErrClosed is returned when recording after Finish.
var ErrClosed = errors.New("recorder closed")

// Sink mirrors run records to another store. Mirror failures never abort a run.
type Sink interface {
	Name() string
	RecordDecision(ctx context.Context, runID string, seq int, d domain.Decision) error
	RecordTrade(ctx context.Context, runID string, seq int, t domain.Trade) error
	RecordSummary(ctx context.Context, s domain.RunSummary) error
}

// SnapshotSink archives assembled snapshots.
type SnapshotSink interface {
	InsertSnapshots(ctx context.Context, records []domain.SnapshotRecord) error
}

// Options configures a Recorder.
type Options struct {
	Dir              string // run directory, created if missing
	RunID            string
	Fsync            bool // fsync after every record
	CaptureSnapshots bool // write snapshots.jsonl
	Mirrors          []Sink
	Archive          SnapshotSink // optional snapshot archive
	Logger           zerolog.Logger
	Metrics          *observability.Metrics
}

// Recorder is the run's only writer of artifacts. Each record is written
// straight to its file before the call returns.
type Recorder struct {
	opts Options

	mu        sync.Mutex
	decisions *os.File
	trades    *os.File
	snapshots *os.File
	closed    bool

	decisionSeq  int
	tradeSeq     int
	reasonCounts map[string]int
	actionCounts map[string]int
	tradesFinal  int
	tradesReject int
	totalPnL     float64
	mirrorErrors int
}

// Open creates the run directory and artifact files. Existing artifacts are
// never overwritten.
func Open(opts Options) (*Recorder, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	r := &Recorder{
		opts:         opts,
		reasonCounts: make(map[string]int),
		actionCounts: make(map[string]int),
	}

	var err error
	if r.decisions, err = create(opts.Dir, DecisionsFile); err != nil {
		return nil, err
	}
	if r.trades, err = create(opts.Dir, TradesFile); err != nil {
		r.decisions.Close()
		return nil, err
	}
	if opts.CaptureSnapshots {
		if r.snapshots, err = create(opts.Dir, SnapshotsFile); err != nil {
			r.decisions.Close()
			r.trades.Close()
			return nil, err
		}
	}
	return r, nil
}

func create(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return f, nil
}

// Decision appends one decision and updates reason counts. The primary
// (first) reason is counted so the counts sum to the number of lines.
func (r *Recorder) Decision(ctx context.Context, d domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if err := r.writeLine(r.decisions, d); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	r.decisionSeq++
	r.reasonCounts[d.PrimaryReason()]++
	r.actionCounts[string(d.Action)]++
	r.opts.Metrics.RecordDecision(string(d.Action))

	for _, s := range r.opts.Mirrors {
		if err := s.RecordDecision(ctx, r.opts.RunID, r.decisionSeq, d); err != nil {
			r.mirrorFailed(s.Name(), err)
		}
	}
	return nil
}

// Trade appends one trade. Final exits add their pnl_delta to the total in
// record order.
func (r *Recorder) Trade(ctx context.Context, t domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if err := r.writeLine(r.trades, t); err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	r.tradeSeq++
	switch t.Status {
	case domain.TradeFinal:
		r.tradesFinal++
		if t.PnLDelta != nil {
			r.totalPnL += *t.PnLDelta
		}
	case domain.TradeRejected:
		r.tradesReject++
	}
	r.opts.Metrics.RecordTrade(string(t.Action), string(t.Status))

	for _, s := range r.opts.Mirrors {
		if err := s.RecordTrade(ctx, r.opts.RunID, r.tradeSeq, t); err != nil {
			r.mirrorFailed(s.Name(), err)
		}
	}
	return nil
}

// Snapshots appends assembled snapshots when capture is enabled and hands
// them to the archive, if any.
func (r *Recorder) Snapshots(ctx context.Context, records []domain.SnapshotRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.snapshots != nil {
		for _, rec := range records {
			if err := r.writeLine(r.snapshots, rec); err != nil {
				return fmt.Errorf("record snapshot: %w", err)
			}
		}
	}
	if r.opts.Archive != nil && len(records) > 0 {
		if err := r.opts.Archive.InsertSnapshots(ctx, records); err != nil {
			r.mirrorFailed("snapshot_archive", err)
		}
	}
	return nil
}

// TotalPnL returns the sum of recorded pnl_delta values.
func (r *Recorder) TotalPnL() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalPnL
}

// Finish fills the recorder's counters into summary, writes
// run_summary.json and closes all files.
func (r *Recorder) Finish(ctx context.Context, summary domain.RunSummary) (domain.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return summary, ErrClosed
	}
	r.closed = true

	summary.ReasonCounts = copyCounts(r.reasonCounts)
	summary.ActionCounts = copyCounts(r.actionCounts)
	summary.Decisions = r.decisionSeq
	summary.TradesFinal = r.tradesFinal
	summary.TradesRejected = r.tradesReject
	summary.TotalPnL = r.totalPnL
	summary.MirrorErrors = r.mirrorErrors

	for _, s := range r.opts.Mirrors {
		if err := s.RecordSummary(ctx, summary); err != nil {
			r.mirrorFailed(s.Name(), err)
			summary.MirrorErrors = r.mirrorErrors
		}
	}

	var errs []error
	if err := writeSummary(r.opts.Dir, summary); err != nil {
		errs = append(errs, err)
	}
	for _, f := range []*os.File{r.decisions, r.trades, r.snapshots} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", filepath.Base(f.Name()), err))
		}
	}
	return summary, errors.Join(errs...)
}

func (r *Recorder) writeLine(f *os.File, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		return err
	}
	if r.opts.Fsync {
		return f.Sync()
	}
	return nil
}

func (r *Recorder) mirrorFailed(sink string, err error) {
	r.mirrorErrors++
	r.opts.Metrics.RecordMirrorError(sink)
	r.opts.Logger.Warn().Err(err).Str("sink", sink).Msg("mirror write failed")
}

// writeSummary writes run_summary.json via a temp file and rename.
func writeSummary(dir string, s domain.RunSummary) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tmp := filepath.Join(dir, SummaryFile+".tmp")
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, SummaryFile)); err != nil {
		return fmt.Errorf("rename summary: %w", err)
	}
	return nil
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

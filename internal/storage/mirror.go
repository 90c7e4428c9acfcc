package storage

import (
	"context"
	"errors"

	"memetrader/internal/domain"
	"memetrader/internal/recorder"
)

// Mirror adapts run, decision and trade stores to the recorder's sink
// interface.
type Mirror struct {
	name      string
	runs      RunStore
	decisions DecisionStore
	trades    TradeStore
}

// NewMirror creates a Mirror named after its backend, e.g. "postgres".
func NewMirror(name string, runs RunStore, decisions DecisionStore, trades TradeStore) *Mirror {
	return &Mirror{name: name, runs: runs, decisions: decisions, trades: trades}
}

// Name returns the backend name.
func (m *Mirror) Name() string {
	return m.name
}

// RecordDecision stores one decision. Re-recording a deterministic run
// yields identical rows, so duplicates are not an error.
func (m *Mirror) RecordDecision(ctx context.Context, runID string, seq int, d domain.Decision) error {
	return ignoreDuplicate(m.decisions.InsertDecision(ctx, runID, seq, d))
}

// RecordTrade stores one trade record.
func (m *Mirror) RecordTrade(ctx context.Context, runID string, seq int, t domain.Trade) error {
	return ignoreDuplicate(m.trades.InsertTrade(ctx, runID, seq, t))
}

// RecordSummary stores the run summary.
func (m *Mirror) RecordSummary(ctx context.Context, s domain.RunSummary) error {
	return ignoreDuplicate(m.runs.InsertRun(ctx, s))
}

// Compile-time interface check.
var _ recorder.Sink = (*Mirror)(nil)

func ignoreDuplicate(err error) error {
	if errors.Is(err, ErrDuplicateKey) {
		return nil
	}
	return err
}

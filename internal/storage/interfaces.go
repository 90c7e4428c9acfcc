package storage

import (
	"context"

	"memetrader/internal/domain"
)

// RunStore provides access to run summaries.
type RunStore interface {
	// InsertRun adds a run summary. Returns ErrDuplicateKey if run_id exists.
	InsertRun(ctx context.Context, s domain.RunSummary) error

	// GetRun retrieves a run summary by id. Returns ErrNotFound if not exists.
	GetRun(ctx context.Context, runID string) (*domain.RunSummary, error)
}

// DecisionStore provides access to recorded decisions.
type DecisionStore interface {
	// InsertDecision adds the seq-th decision of a run (1-based).
	// Returns ErrDuplicateKey if (run_id, seq) exists.
	InsertDecision(ctx context.Context, runID string, seq int, d domain.Decision) error

	// GetDecisions retrieves all decisions of a run, ordered by seq ASC.
	GetDecisions(ctx context.Context, runID string) ([]domain.Decision, error)
}

// TradeStore provides access to recorded trades.
type TradeStore interface {
	// InsertTrade adds the seq-th trade record of a run (1-based). A trade id
	// appears once per status change. Returns ErrDuplicateKey if (run_id, seq) exists.
	InsertTrade(ctx context.Context, runID string, seq int, t domain.Trade) error

	// GetTrades retrieves all trade records of a run, ordered by seq ASC.
	GetTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}

// SnapshotStore archives raw snapshot records for later replay.
type SnapshotStore interface {
	// InsertSnapshots adds records atomically. Fails the entire batch on a
	// duplicate (ts, candidate_id).
	InsertSnapshots(ctx context.Context, records []domain.SnapshotRecord) error

	// GetSnapshots retrieves records within [start, end] (inclusive), ordered
	// by ts ASC then candidate_id ASC.
	GetSnapshots(ctx context.Context, start, end int64) ([]domain.SnapshotRecord, error)
}

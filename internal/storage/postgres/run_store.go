package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// InsertRun adds a run summary. Returns ErrDuplicateKey if run_id exists.
// The full summary is kept as JSONB; headline fields are also columns.
func (s *RunStore) InsertRun(ctx context.Context, sum domain.RunSummary) (err error) {
	if sum.RunID == "" {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("insert_run", time.Now(), &err)

	doc, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	query := `
		INSERT INTO runs (
			run_id, config_hash, started_at, ended_at,
			decisions, trades_final, total_pnl, trading_mode, summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		sum.RunID, sum.ConfigHash, sum.StartedAt, sum.EndedAt,
		sum.Decisions, sum.TradesFinal, sum.TotalPnL, sum.TradingMode, doc,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run summary. Returns ErrNotFound if not exists.
func (s *RunStore) GetRun(ctx context.Context, runID string) (_ *domain.RunSummary, err error) {
	defer s.pool.track("get_run", time.Now(), &err)

	var doc []byte
	err = s.pool.QueryRow(ctx, `SELECT summary FROM runs WHERE run_id = $1`, runID).Scan(&doc)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	var sum domain.RunSummary
	if err := json.Unmarshal(doc, &sum); err != nil {
		return nil, fmt.Errorf("decode run summary: %w", err)
	}
	return &sum, nil
}

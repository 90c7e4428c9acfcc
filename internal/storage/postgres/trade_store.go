package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// InsertTrade adds a trade record. Returns ErrDuplicateKey if (run_id, seq) exists.
func (s *TradeStore) InsertTrade(ctx context.Context, runID string, seq int, t domain.Trade) (err error) {
	if runID == "" || seq < 1 || t.TradeID == "" {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("insert_trade", time.Now(), &err)

	query := `
		INSERT INTO trades (
			run_id, seq, trade_id, position_id, candidate_id,
			action, status, price, size, ts,
			slippage, fee, pnl_delta, reason
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)
	`
	_, err = s.pool.Exec(ctx, query,
		runID, seq, t.TradeID, t.PositionID, t.CandidateID,
		string(t.Action), string(t.Status), t.Price, t.Size, t.Timestamp,
		t.Slippage, t.Fee, t.PnLDelta, t.Reason,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrades retrieves a run's trade records ordered by seq.
func (s *TradeStore) GetTrades(ctx context.Context, runID string) (_ []domain.Trade, err error) {
	defer s.pool.track("get_trades", time.Now(), &err)

	query := `
		SELECT
			trade_id, position_id, candidate_id, action, status,
			price, size, ts, slippage, fee, pnl_delta, reason
		FROM trades
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// scanTrades scans rows into trades.
func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var out []domain.Trade

	for rows.Next() {
		var (
			t              domain.Trade
			action, status string
		)
		err := rows.Scan(
			&t.TradeID, &t.PositionID, &t.CandidateID, &action, &status,
			&t.Price, &t.Size, &t.Timestamp, &t.Slippage, &t.Fee, &t.PnLDelta, &t.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Action = domain.TradeAction(action)
		t.Status = domain.TradeStatus(status)
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return out, nil
}

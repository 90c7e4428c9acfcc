package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

// DecisionStore implements storage.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// InsertDecision adds a decision. Returns ErrDuplicateKey if (run_id, seq) exists.
func (s *DecisionStore) InsertDecision(ctx context.Context, runID string, seq int, d domain.Decision) (err error) {
	if runID == "" || seq < 1 {
		return storage.ErrInvalidInput
	}
	defer s.pool.track("insert_decision", time.Now(), &err)

	var features []byte
	if d.Features != nil {
		if features, err = json.Marshal(d.Features); err != nil {
			return fmt.Errorf("marshal features: %w", err)
		}
	}
	reasons := d.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	query := `
		INSERT INTO decisions (
			run_id, seq, candidate_id, ts, action,
			confidence, reasons, score, features
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		runID, seq, d.CandidateID, d.Timestamp, string(d.Action),
		d.Confidence, reasons, d.Score, features,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetDecisions retrieves a run's decisions ordered by seq.
func (s *DecisionStore) GetDecisions(ctx context.Context, runID string) (_ []domain.Decision, err error) {
	defer s.pool.track("get_decisions", time.Now(), &err)

	query := `
		SELECT candidate_id, ts, action, confidence, reasons, score, features
		FROM decisions
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// scanDecisions scans rows into decisions.
func scanDecisions(rows pgx.Rows) ([]domain.Decision, error) {
	var out []domain.Decision

	for rows.Next() {
		var (
			d        domain.Decision
			action   string
			features []byte
		)
		if err := rows.Scan(&d.CandidateID, &d.Timestamp, &action, &d.Confidence, &d.Reasons, &d.Score, &features); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		d.Action = domain.Action(action)
		if features != nil {
			var fv domain.FeatureVector
			if err := json.Unmarshal(features, &fv); err != nil {
				return nil, fmt.Errorf("decode features: %w", err)
			}
			d.Features = &fv
		}
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return out, nil
}

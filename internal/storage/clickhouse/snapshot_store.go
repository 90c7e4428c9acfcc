package clickhouse

import (
	"context"
	"fmt"
	"time"

	"memetrader/internal/domain"
	"memetrader/internal/observability"
	"memetrader/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn    *Conn
	metrics *observability.Metrics
}

// NewSnapshotStore creates a new SnapshotStore. metrics may be nil.
func NewSnapshotStore(conn *Conn, metrics *observability.Metrics) *SnapshotStore {
	return &SnapshotStore{conn: conn, metrics: metrics}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

type snapshotKey struct {
	ts          int64
	candidateID string
}

// InsertSnapshots adds records in one batch. Fails entire batch on a
// duplicate (ts, candidate_id), in the batch or already stored.
func (s *SnapshotStore) InsertSnapshots(ctx context.Context, records []domain.SnapshotRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	defer s.track("insert_snapshots", time.Now(), &err)

	seen := make(map[snapshotKey]struct{}, len(records))
	for _, r := range records {
		if r.CandidateID == "" || r.Timestamp < 0 {
			return storage.ErrInvalidInput
		}
		k := snapshotKey{r.Timestamp, r.CandidateID}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for k := range seen {
		exists, err := s.exists(ctx, k)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO snapshot_archive (
			ts, candidate_id, symbol,
			has_market, market_candidate_id, market_ts, price, liquidity, volume,
			spread_bps, price_change_pct, volume_change_pct,
			has_chain, chain_candidate_id, chain_ts, holder_count, top_holder_pct,
			mint_revoked, freeze_revoked, lp_locked_pct, token_age_sec,
			market_invalid, chain_invalid
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		var (
			m      domain.MarketSnapshot
			c      domain.ChainSnapshot
			hasM   uint8
			hasC   uint8
			mint   uint8
			freeze uint8
		)
		if r.Market != nil {
			m, hasM = *r.Market, 1
		}
		if r.Chain != nil {
			c, hasC = *r.Chain, 1
		}
		if c.MintAuthorityRevoked {
			mint = 1
		}
		if c.FreezeAuthorityRevoked {
			freeze = 1
		}
		err = batch.Append(
			uint64(r.Timestamp), r.CandidateID, r.Symbol,
			hasM, m.CandidateID, m.Timestamp, m.Price, m.Liquidity, m.Volume,
			m.SpreadBps, m.PriceChangePct, m.VolumeChangePct,
			hasC, c.CandidateID, c.Timestamp, c.HolderCount, c.TopHolderPct,
			mint, freeze, c.LPLockedPct, c.TokenAgeSec,
			r.MarketInvalid, r.ChainInvalid,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetSnapshots retrieves records within [start, end] ordered by ts then candidate id.
func (s *SnapshotStore) GetSnapshots(ctx context.Context, start, end int64) (_ []domain.SnapshotRecord, err error) {
	defer s.track("get_snapshots", time.Now(), &err)

	query := `
		SELECT
			ts, candidate_id, symbol,
			has_market, market_candidate_id, market_ts, price, liquidity, volume,
			spread_bps, price_change_pct, volume_change_pct,
			has_chain, chain_candidate_id, chain_ts, holder_count, top_holder_pct,
			mint_revoked, freeze_revoked, lp_locked_pct, token_age_sec,
			market_invalid, chain_invalid
		FROM snapshot_archive FINAL
		WHERE ts >= ? AND ts <= ?
		ORDER BY ts ASC, candidate_id ASC
	`
	rows, err := s.conn.Query(ctx, query, uint64(max(start, 0)), uint64(max(end, 0)))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.SnapshotRecord
	for rows.Next() {
		var (
			r            domain.SnapshotRecord
			m            domain.MarketSnapshot
			c            domain.ChainSnapshot
			ts           uint64
			hasM, hasC   uint8
			mint, freeze uint8
		)
		err := rows.Scan(
			&ts, &r.CandidateID, &r.Symbol,
			&hasM, &m.CandidateID, &m.Timestamp, &m.Price, &m.Liquidity, &m.Volume,
			&m.SpreadBps, &m.PriceChangePct, &m.VolumeChangePct,
			&hasC, &c.CandidateID, &c.Timestamp, &c.HolderCount, &c.TopHolderPct,
			&mint, &freeze, &c.LPLockedPct, &c.TokenAgeSec,
			&r.MarketInvalid, &r.ChainInvalid,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		r.Timestamp = int64(ts)
		if hasM == 1 {
			r.Market = &m
		}
		if hasC == 1 {
			c.MintAuthorityRevoked = mint == 1
			c.FreezeAuthorityRevoked = freeze == 1
			r.Chain = &c
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

// exists checks if a record with the given key is stored.
func (s *SnapshotStore) exists(ctx context.Context, k snapshotKey) (bool, error) {
	query := `
		SELECT count(*) FROM snapshot_archive
		WHERE ts = ? AND candidate_id = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, uint64(k.ts), k.candidateID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SnapshotStore) track(operation string, start time.Time, err *error) {
	s.metrics.RecordDBQuery("clickhouse", operation, time.Since(start), *err)
}

package reporting

import (
	"sort"
	"time"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/metrics"
	"memetrader/internal/verification"
)

// Generator builds reports from loaded runs.
type Generator struct {
	now        func() time.Time
	thresholds dataset.Thresholds
}

// NewGenerator creates a generator that checks captured snapshots against th.
func NewGenerator(th dataset.Thresholds) *Generator {
	return &Generator{
		now:        func() time.Time { return time.Now().UTC() },
		thresholds: th,
	}
}

// WithClock sets the clock used for GeneratedAt.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report for run. Snapshots are optional and feed the
// data quality section; the audit is always run.
func (g *Generator) Generate(run *verification.Run, snapshots *dataset.Dataset) *Report {
	s := run.Summary
	r := &Report{
		GeneratedAt: g.now(),
		Run: RunSection{
			RunID:          s.RunID,
			ConfigHash:     s.ConfigHash,
			TradingMode:    s.TradingMode,
			MarketProvider: s.MarketProvider,
			ChainProvider:  s.ChainProvider,
			StartedAt:      s.StartedAt,
			EndedAt:        s.EndedAt,
		},
		Activity: ActivitySection{
			Decisions:          len(run.Decisions),
			Absences:           s.Absences,
			ActionCounts:       countActions(run.Decisions),
			TradesFinal:        s.TradesFinal,
			TradesRejected:     s.TradesRejected,
			TradesPending:      s.TradesPending,
			LiquidatedAtEnd:    s.LiquidatedAtEnd,
			OpenPositionsAtEnd: s.OpenPositionsAtEnd,
			MirrorErrors:       s.MirrorErrors,
			TotalPnL:           s.TotalPnL,
		},
		Reasons:   reasonRows(s.ReasonCounts, len(run.Decisions)),
		Positions: positionRows(run.Trades),
		Audit:     verification.Audit(run),
	}

	r.Performance = s.Performance
	if r.Performance == nil {
		r.Performance = metrics.Compute(closedPositions(r.Positions))
	}

	if snapshots != nil {
		res := dataset.CheckSufficiency(snapshots, g.thresholds)
		r.DataQuality = &DataQualitySection{
			Source:          snapshots.Source,
			Records:         len(snapshots.Records),
			Checks:          res.Checks,
			AllChecksPassed: res.AllPass,
		}
	}
	return r
}

func countActions(decisions []domain.Decision) map[string]int {
	out := make(map[string]int)
	for _, d := range decisions {
		out[string(d.Action)]++
	}
	return out
}

func reasonRows(counts map[string]int, total int) []ReasonRow {
	rows := make([]ReasonRow, 0, len(counts))
	for reason, n := range counts {
		row := ReasonRow{Reason: reason, Count: n}
		if total > 0 {
			row.Share = float64(n) / float64(total)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Reason < rows[j].Reason
	})
	return rows
}

// positionRows pairs final enter and exit trades by position id. Positions
// without a final exit are left out.
func positionRows(trades []domain.Trade) []PositionRow {
	byID := make(map[string]*PositionRow)
	var order []string
	for _, t := range trades {
		if t.Status != domain.TradeFinal {
			continue
		}
		row, ok := byID[t.PositionID]
		if !ok {
			row = &PositionRow{PositionID: t.PositionID, CandidateID: t.CandidateID}
			byID[t.PositionID] = row
			order = append(order, t.PositionID)
		}
		row.Fees += t.Fee
		switch t.Action {
		case domain.TradeEnter:
			row.EntryTs, row.EntryPrice, row.Size = t.Timestamp, t.Price, t.Size
		case domain.TradeExit:
			row.ExitTs, row.ExitPrice, row.ExitReason = t.Timestamp, t.Price, t.Reason
			if t.PnLDelta != nil {
				row.PnL = *t.PnLDelta
			}
		}
	}

	rows := make([]PositionRow, 0, len(order))
	for _, id := range order {
		if row := byID[id]; row.ExitTs != 0 {
			rows = append(rows, *row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ExitTs != rows[j].ExitTs {
			return rows[i].ExitTs < rows[j].ExitTs
		}
		return rows[i].PositionID < rows[j].PositionID
	})
	return rows
}

// closedPositions rebuilds positions for runs whose summary predates the
// performance section.
func closedPositions(rows []PositionRow) []domain.Position {
	out := make([]domain.Position, 0, len(rows))
	for _, row := range rows {
		pnl, closedAt := row.PnL, row.ExitTs
		out = append(out, domain.Position{
			ID:          row.PositionID,
			CandidateID: row.CandidateID,
			State:       domain.PositionClosed,
			EntryPrice:  row.EntryPrice,
			Size:        row.Size,
			OpenedAt:    row.EntryTs,
			ClosedAt:    &closedAt,
			RealizedPnL: &pnl,
			ExitReason:  row.ExitReason,
		})
	}
	return out
}

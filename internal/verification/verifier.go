// Package verification checks recorded runs: that a replay of the captured
// snapshots reproduces the same decisions and trades, and that the
// artifacts of a run are internally consistent.
package verification

import (
	"math"
	"slices"

	"memetrader/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between recorded and replayed values.
type FieldDivergence struct {
	Field    string `json:"field"`
	Expected any    `json:"expected"` // recorded value
	Actual   any    `json:"actual"`   // replayed value
}

// RecordResult is the comparison of one recorded line with its replay.
type RecordResult struct {
	Kind        string            `json:"kind"`  // "decision" or "trade"
	Index       int               `json:"index"` // 0-based line number
	Key         string            `json:"key"`   // candidate and ts, or trade id
	Divergences []FieldDivergence `json:"divergences"`
}

// Report contains the outcome of verifying one run directory.
type Report struct {
	RunDir            string         `json:"run_dir"`
	Decisions         int            `json:"decisions"`          // recorded decision lines
	Trades            int            `json:"trades"`             // recorded trade lines
	ReplayedDecisions int            `json:"replayed_decisions"` // decision lines produced by the replay
	ReplayedTrades    int            `json:"replayed_trades"`
	Mismatches        []RecordResult `json:"mismatches"`
	SummaryMatch      bool           `json:"summary_match"` // total_pnl and reason counts agree
}

// Match reports whether the replay reproduced the run.
func (r *Report) Match() bool {
	return len(r.Mismatches) == 0 &&
		r.Decisions == r.ReplayedDecisions &&
		r.Trades == r.ReplayedTrades &&
		r.SummaryMatch
}

// CompareDecisions compares two decisions field by field.
func CompareDecisions(stored, replayed domain.Decision) []FieldDivergence {
	var d divergences
	d.check("candidate_id", stored.CandidateID, replayed.CandidateID, stored.CandidateID == replayed.CandidateID)
	d.check("ts", stored.Timestamp, replayed.Timestamp, stored.Timestamp == replayed.Timestamp)
	d.check("action", stored.Action, replayed.Action, stored.Action == replayed.Action)
	d.check("confidence", stored.Confidence, replayed.Confidence, floatEquals(stored.Confidence, replayed.Confidence))
	d.check("reasons", stored.Reasons, replayed.Reasons, slices.Equal(stored.Reasons, replayed.Reasons))
	d.check("score", stored.Score, replayed.Score, floatPtrEquals(stored.Score, replayed.Score))
	d.check("features", stored.Features, replayed.Features, featuresEqual(stored.Features, replayed.Features))
	return d
}

// CompareTrades compares two trades field by field.
func CompareTrades(stored, replayed domain.Trade) []FieldDivergence {
	var d divergences
	d.check("trade_id", stored.TradeID, replayed.TradeID, stored.TradeID == replayed.TradeID)
	d.check("position_id", stored.PositionID, replayed.PositionID, stored.PositionID == replayed.PositionID)
	d.check("candidate_id", stored.CandidateID, replayed.CandidateID, stored.CandidateID == replayed.CandidateID)
	d.check("action", stored.Action, replayed.Action, stored.Action == replayed.Action)
	d.check("status", stored.Status, replayed.Status, stored.Status == replayed.Status)
	d.check("price", stored.Price, replayed.Price, floatEquals(stored.Price, replayed.Price))
	d.check("size", stored.Size, replayed.Size, floatEquals(stored.Size, replayed.Size))
	d.check("ts", stored.Timestamp, replayed.Timestamp, stored.Timestamp == replayed.Timestamp)
	d.check("slippage", stored.Slippage, replayed.Slippage, floatEquals(stored.Slippage, replayed.Slippage))
	d.check("fee", stored.Fee, replayed.Fee, floatEquals(stored.Fee, replayed.Fee))
	d.check("pnl_delta", stored.PnLDelta, replayed.PnLDelta, floatPtrEquals(stored.PnLDelta, replayed.PnLDelta))
	d.check("reason", stored.Reason, replayed.Reason, stored.Reason == replayed.Reason)
	return d
}

type divergences []FieldDivergence

func (d *divergences) check(field string, expected, actual any, equal bool) {
	if !equal {
		*d = append(*d, FieldDivergence{Field: field, Expected: expected, Actual: actual})
	}
}

func featuresEqual(a, b *domain.FeatureVector) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	at, bt := a.Terms(), b.Terms()
	for k, v := range at {
		if !floatEquals(v, bt[k]) {
			return false
		}
	}
	return true
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals returns true if both are nil, or both are non-nil and equal.
func floatPtrEquals(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEquals(*a, *b)
}

package verification

import (
	"fmt"
	"math"
	"sort"

	"memetrader/internal/domain"
)

// Audit check names.
const (
	CheckReasonCounts = "reason_counts"
	CheckTimestamps   = "timestamps"
	CheckAccounting   = "accounting"
	CheckExclusivity  = "position_exclusivity"
	CheckTradeStatus  = "trade_status"
	CheckOpenAtEnd    = "open_positions_at_end"
)

// Violation is one failed consistency check.
type Violation struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// AuditReport lists every violation found in a run.
type AuditReport struct {
	RunID      string      `json:"run_id"`
	Decisions  int         `json:"decisions"`
	Trades     int         `json:"trades"`
	Violations []Violation `json:"violations"`
}

// OK reports whether the run passed every check.
func (r *AuditReport) OK() bool {
	return len(r.Violations) == 0
}

func (r *AuditReport) fail(check, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Check: check, Detail: fmt.Sprintf(format, args...)})
}

// AuditDir loads the run in dir and audits it.
func AuditDir(dir string) (*AuditReport, error) {
	run, err := LoadRun(dir)
	if err != nil {
		return nil, err
	}
	return Audit(run), nil
}

// Audit checks a run's artifacts against each other:
//   - every decision has a reason, and the summary's reason counts sum to
//     the number of decision lines and match their primary reasons;
//   - decision timestamps never go back, and strictly increase per candidate;
//   - total_pnl equals the sum of pnl_delta, which only final exits carry;
//   - at most one position per candidate is open at any time;
//   - a trade id moves from pending to a terminal status at most once;
//   - open_positions_at_end matches the positions left open by the trades.
func Audit(run *Run) *AuditReport {
	r := &AuditReport{
		RunID:     run.Summary.RunID,
		Decisions: len(run.Decisions),
		Trades:    len(run.Trades),
	}
	auditDecisions(r, run)
	auditTrades(r, run)
	return r
}

func auditDecisions(r *AuditReport, run *Run) {
	counts := make(map[string]int)
	lastByCandidate := make(map[string]int64)
	var last int64
	for i, d := range run.Decisions {
		if len(d.Reasons) == 0 {
			r.fail(CheckReasonCounts, "decision %d for %s has no reason", i, d.CandidateID)
		}
		counts[d.PrimaryReason()]++

		if i > 0 && d.Timestamp < last {
			r.fail(CheckTimestamps, "decision %d at %d precedes %d", i, d.Timestamp, last)
		}
		last = d.Timestamp
		if prev, ok := lastByCandidate[d.CandidateID]; ok && d.Timestamp <= prev {
			r.fail(CheckTimestamps, "decision %d for %s at %d not after %d", i, d.CandidateID, d.Timestamp, prev)
		}
		lastByCandidate[d.CandidateID] = d.Timestamp
	}

	total := 0
	for _, n := range run.Summary.ReasonCounts {
		total += n
	}
	if total != len(run.Decisions) {
		r.fail(CheckReasonCounts, "reason counts sum to %d, %d decision lines", total, len(run.Decisions))
	}
	if run.Summary.Decisions != len(run.Decisions) {
		r.fail(CheckReasonCounts, "summary reports %d decisions, %d lines", run.Summary.Decisions, len(run.Decisions))
	}
	for _, reason := range unionKeys(counts, run.Summary.ReasonCounts) {
		if counts[reason] != run.Summary.ReasonCounts[reason] {
			r.fail(CheckReasonCounts, "reason %q counted %d, %d in decisions", reason, run.Summary.ReasonCounts[reason], counts[reason])
		}
	}
}

func auditTrades(r *AuditReport, run *Run) {
	var pnl float64
	open := make(map[string]string) // candidate -> position id
	status := make(map[string]domain.TradeStatus)

	for i, t := range run.Trades {
		if t.PnLDelta != nil {
			if t.Status != domain.TradeFinal || t.Action != domain.TradeExit {
				r.fail(CheckAccounting, "trade %s carries pnl_delta but is %s %s", t.TradeID, t.Status, t.Action)
			}
			pnl += *t.PnLDelta
		}

		prev, seen := status[t.TradeID]
		switch {
		case !seen:
		case prev == domain.TradePending && t.Status != domain.TradePending:
		default:
			r.fail(CheckTradeStatus, "trade %s recorded %s after %s (line %d)", t.TradeID, t.Status, prev, i)
		}
		status[t.TradeID] = t.Status

		if t.Status != domain.TradeFinal {
			continue
		}
		switch t.Action {
		case domain.TradeEnter:
			if pos, ok := open[t.CandidateID]; ok {
				r.fail(CheckExclusivity, "entry %s for %s while position %s is open", t.TradeID, t.CandidateID, pos)
			}
			open[t.CandidateID] = t.PositionID
		case domain.TradeExit:
			if pos, ok := open[t.CandidateID]; !ok || pos != t.PositionID {
				r.fail(CheckExclusivity, "exit %s for %s without its open position", t.TradeID, t.CandidateID)
			}
			delete(open, t.CandidateID)
		}
	}

	if math.Abs(pnl-run.Summary.TotalPnL) > FloatTolerance {
		r.fail(CheckAccounting, "total_pnl %v, pnl_delta sums to %v", run.Summary.TotalPnL, pnl)
	}
	if len(open) != run.Summary.OpenPositionsAtEnd {
		r.fail(CheckOpenAtEnd, "summary reports %d open, trades leave %d", run.Summary.OpenPositionsAtEnd, len(open))
	}
}

func unionKeys(a, b map[string]int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

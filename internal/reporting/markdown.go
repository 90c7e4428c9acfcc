package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderMarkdown renders the report as Markdown.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Run Report: %s\n\n", r.Run.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	sb.WriteString("## Run\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Config Hash | `%s` |\n", r.Run.ConfigHash))
	sb.WriteString(fmt.Sprintf("| Trading Mode | %s |\n", r.Run.TradingMode))
	sb.WriteString(fmt.Sprintf("| Market Provider | %s |\n", r.Run.MarketProvider))
	sb.WriteString(fmt.Sprintf("| Chain Provider | %s |\n", r.Run.ChainProvider))
	sb.WriteString(fmt.Sprintf("| Started (ms) | %d |\n", r.Run.StartedAt))
	sb.WriteString(fmt.Sprintf("| Ended (ms) | %d |\n", r.Run.EndedAt))
	sb.WriteString("\n")

	a := r.Activity
	sb.WriteString("## Activity\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Decisions | %d |\n", a.Decisions))
	sb.WriteString(fmt.Sprintf("| Absences | %d |\n", a.Absences))
	actions := make([]string, 0, len(a.ActionCounts))
	for action := range a.ActionCounts {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		sb.WriteString(fmt.Sprintf("| Action %s | %d |\n", action, a.ActionCounts[action]))
	}
	sb.WriteString(fmt.Sprintf("| Trades Final | %d |\n", a.TradesFinal))
	sb.WriteString(fmt.Sprintf("| Trades Rejected | %d |\n", a.TradesRejected))
	sb.WriteString(fmt.Sprintf("| Trades Pending | %d |\n", a.TradesPending))
	sb.WriteString(fmt.Sprintf("| Liquidated At End | %d |\n", a.LiquidatedAtEnd))
	sb.WriteString(fmt.Sprintf("| Open Positions At End | %d |\n", a.OpenPositionsAtEnd))
	sb.WriteString(fmt.Sprintf("| Mirror Errors | %d |\n", a.MirrorErrors))
	sb.WriteString(fmt.Sprintf("| Total PnL (USD) | %.4f |\n", a.TotalPnL))
	sb.WriteString("\n")

	sb.WriteString("## Decision Reasons\n\n")
	if len(r.Reasons) > 0 {
		sb.WriteString("| Reason | Count | Share |\n")
		sb.WriteString("|--------|-------|-------|\n")
		for _, row := range r.Reasons {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f%% |\n", row.Reason, row.Count, row.Share*100))
		}
	} else {
		sb.WriteString("No decisions recorded.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Performance\n\n")
	if p := r.Performance; p != nil && p.ClosedPositions > 0 {
		pf := "n/a"
		if p.ProfitFactor != nil {
			pf = fmt.Sprintf("%.4f", *p.ProfitFactor)
		}
		sb.WriteString("| Closed | Wins | Losses | WinRate | Candidates | CandidateWinRate | Mean | Median | Stddev | ProfitFactor | MaxDD | MaxConsecLosses |\n")
		sb.WriteString("|--------|------|--------|---------|------------|------------------|------|--------|--------|--------------|-------|-----------------|\n")
		sb.WriteString(fmt.Sprintf("| %d | %d | %d | %.4f | %d | %.4f | %.4f | %.4f | %.4f | %s | %.4f | %d |\n",
			p.ClosedPositions, p.Wins, p.Losses, p.WinRate, p.Candidates, p.CandidateWinRate,
			p.MeanPnL, p.MedianPnL, p.PnLStddev, pf, p.MaxDrawdown, p.MaxConsecLosses))
	} else {
		sb.WriteString("No closed positions.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Closed Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Position | Candidate | Entry (ms) | Entry Price | Exit (ms) | Exit Price | Size | Fees | PnL | Exit Reason |\n")
		sb.WriteString("|----------|-----------|------------|-------------|-----------|------------|------|------|-----|-------------|\n")
		for _, p := range r.Positions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %.8f | %d | %.8f | %.4f | %.4f | %.4f | %s |\n",
				shortID(p.PositionID), p.CandidateID, p.EntryTs, p.EntryPrice,
				p.ExitTs, p.ExitPrice, p.Size, p.Fees, p.PnL, p.ExitReason))
		}
	} else {
		sb.WriteString("No closed positions.\n")
	}
	sb.WriteString("\n")

	if dq := r.DataQuality; dq != nil {
		sb.WriteString("## Data Quality\n\n")
		sb.WriteString(fmt.Sprintf("Source: %s (%d records)\n\n", dq.Source, dq.Records))
		if len(dq.Checks) > 0 {
			sb.WriteString("| Check | Threshold | Actual | Status |\n")
			sb.WriteString("|-------|-----------|--------|--------|\n")
			for _, check := range dq.Checks {
				sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
					check.Name, check.Threshold, check.Actual, passFail(check.Pass)))
			}
			sb.WriteString("\n")
			if dq.AllChecksPassed {
				sb.WriteString("**All checks passed.**\n\n")
			} else {
				sb.WriteString("**Some checks failed.** Results may not be representative.\n\n")
			}
		} else {
			sb.WriteString("No sufficiency checks configured.\n\n")
		}
	}

	if au := r.Audit; au != nil {
		sb.WriteString("## Audit\n\n")
		if au.OK() {
			sb.WriteString("All consistency checks passed.\n")
		} else {
			sb.WriteString("| Check | Detail |\n")
			sb.WriteString("|-------|--------|\n")
			for _, v := range au.Violations {
				sb.WriteString(fmt.Sprintf("| %s | %s |\n", v.Check, v.Detail))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

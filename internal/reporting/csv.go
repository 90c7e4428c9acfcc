package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders closed positions as CSV.
func RenderCSV(rows []PositionRow) string {
	var sb strings.Builder

	sb.WriteString("position_id,candidate_id,entry_ts,entry_price,exit_ts,exit_price,size,fees,pnl,exit_reason\n")
	for _, p := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%.10f,%d,%.10f,%.6f,%.6f,%.6f,%s\n",
			p.PositionID,
			p.CandidateID,
			p.EntryTs,
			p.EntryPrice,
			p.ExitTs,
			p.ExitPrice,
			p.Size,
			p.Fees,
			p.PnL,
			p.ExitReason,
		))
	}

	return sb.String()
}

package domain

// PositionState is the lifecycle state of a Position.
type PositionState string

const (
	PositionWatching PositionState = "watching" // entry requested, not yet filled
	PositionOpen     PositionState = "open"
	PositionClosing  PositionState = "closing" // exit requested, not yet filled
	PositionClosed   PositionState = "closed"  // terminal
)

// Position is tracked exposure to one candidate from entry to exit.
type Position struct {
	ID              string        `json:"id"` // deterministic hash
	CandidateID     string        `json:"candidate_id"`
	State           PositionState `json:"state"`
	EntryPrice      float64       `json:"entry_price"`       // fill price incl. slippage
	Size            float64       `json:"size"`              // token units
	EntryNotional   float64       `json:"entry_notional"`    // USD committed incl. entry fee
	StopLossPrice   float64       `json:"stop_loss_price"`   // 0 when disabled
	TakeProfitPrice float64       `json:"take_profit_price"` // 0 when disabled
	OpenedAt        int64         `json:"opened_at"`         // ms
	ClosedAt        *int64        `json:"closed_at"`         // ms, nil until Closed
	RealizedPnL     *float64      `json:"realized_pnl"`      // USD, nil until Closed
	ExitReason      string        `json:"exit_reason,omitempty"`
	LastPrice       float64       `json:"last_price"` // latest observed market price
}

// Active reports whether the position counts toward exposure limits.
func (p *Position) Active() bool {
	return p.State != PositionClosed
}

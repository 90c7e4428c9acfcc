package domain

// TradeAction is the side of a simulated fill.
type TradeAction string

const (
	TradeEnter TradeAction = "enter"
	TradeExit  TradeAction = "exit"
)

// TradeStatus tracks acknowledgment of a simulated fill.
type TradeStatus string

const (
	TradePending  TradeStatus = "pending"  // awaiting confirm or reject
	TradeFinal    TradeStatus = "final"    // filled
	TradeRejected TradeStatus = "rejected" // rejected or cancelled, no fill
)

// Trade is one simulated fill event against a Position.
// A pending trade is recorded again with its final status once acknowledged.
type Trade struct {
	TradeID     string      `json:"trade_id"` // deterministic hash
	PositionID  string      `json:"position_id"`
	CandidateID string      `json:"candidate_id"`
	Action      TradeAction `json:"action"`
	Status      TradeStatus `json:"status"`
	Price       float64     `json:"price"`     // fill price incl. slippage
	Size        float64     `json:"size"`      // token units
	Timestamp   int64       `json:"ts"`        // ms
	Slippage    float64     `json:"slippage"`  // applied fraction, 0.01 = 1%
	Fee         float64     `json:"fee"`       // USD
	PnLDelta    *float64    `json:"pnl_delta"` // set only on final exits
	Reason      string      `json:"reason"`
}

// Notional returns price times size.
func (t *Trade) Notional() float64 {
	return t.Price * t.Size
}

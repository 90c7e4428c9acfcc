package domain

// RunSummary aggregates one run. Written once as run_summary.json.
type RunSummary struct {
	RunID              string         `json:"run_id"`
	ConfigHash         string         `json:"config_hash"`
	StartedAt          int64          `json:"started_at"` // ms
	EndedAt            int64          `json:"ended_at"`   // ms
	ReasonCounts       map[string]int `json:"reason_counts"`
	TotalPnL           float64        `json:"total_pnl"`
	OpenPositionsAtEnd int            `json:"open_positions_at_end"`

	Decisions       int            `json:"decisions"`
	Absences        int            `json:"absences"` // decisions made without a snapshot
	ActionCounts    map[string]int `json:"action_counts"`
	TradesFinal     int            `json:"trades_final"`
	TradesRejected  int            `json:"trades_rejected"`
	TradesPending   int            `json:"trades_pending"` // pending acknowledgments at run end
	LiquidatedAtEnd int            `json:"liquidated_at_end"`
	MirrorErrors    int            `json:"mirror_errors"`

	MarketProvider string `json:"market_provider"`
	ChainProvider  string `json:"chain_provider"`
	TradingMode    string `json:"trading_mode"`

	Performance *Performance `json:"performance,omitempty"`
}

// Performance holds realized-trade statistics for a run.
type Performance struct {
	ClosedPositions  int       `json:"closed_positions"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	WinRate          float64   `json:"win_rate"`
	Candidates       int       `json:"candidates"`         // distinct candidates with a closed position
	CandidateWinRate float64   `json:"candidate_win_rate"` // share of candidates with at least one win
	GrossProfit      float64   `json:"gross_profit"`
	GrossLoss        float64   `json:"gross_loss"`    // positive magnitude
	ProfitFactor     *float64  `json:"profit_factor"` // nil when there are no losses
	MeanPnL          float64   `json:"mean_pnl"`
	MedianPnL        float64   `json:"median_pnl"`
	PnLStddev        float64   `json:"pnl_stddev"` // sample standard deviation
	MaxConsecLosses  int       `json:"max_consecutive_losses"`
	MaxDrawdown      float64   `json:"max_drawdown"` // USD, peak-to-trough of the equity curve
	EquityCurve      []float64 `json:"equity_curve"` // cumulative realized P&L after each close
}

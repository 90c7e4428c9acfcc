package reporting

import (
	"time"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/verification"
)

// Report is the human-readable view of one run directory.
type Report struct {
	GeneratedAt time.Time

	Run         RunSection
	Activity    ActivitySection
	Reasons     []ReasonRow // sorted by count desc, then reason
	Performance *domain.Performance
	Positions   []PositionRow // closed positions, sorted by exit ts then position id

	// Optional sections.
	DataQuality *DataQualitySection
	Audit       *verification.AuditReport
}

// RunSection identifies the run.
type RunSection struct {
	RunID          string
	ConfigHash     string
	TradingMode    string
	MarketProvider string
	ChainProvider  string
	StartedAt      int64 // ms
	EndedAt        int64 // ms
}

// ActivitySection counts what the engine did.
type ActivitySection struct {
	Decisions          int
	Absences           int
	ActionCounts       map[string]int
	TradesFinal        int
	TradesRejected     int
	TradesPending      int
	LiquidatedAtEnd    int
	OpenPositionsAtEnd int
	MirrorErrors       int
	TotalPnL           float64
}

// ReasonRow is one primary reason and how often it decided.
type ReasonRow struct {
	Reason string
	Count  int
	Share  float64 // of all decisions
}

// PositionRow is one round trip reconstructed from final trades.
type PositionRow struct {
	PositionID  string
	CandidateID string
	EntryTs     int64
	EntryPrice  float64
	ExitTs      int64
	ExitPrice   float64
	Size        float64
	Fees        float64
	PnL         float64
	ExitReason  string
}

// DataQualitySection holds sufficiency checks of the snapshots a run
// evaluated, when they were captured.
type DataQualitySection struct {
	Source          string
	Records         int
	Checks          []dataset.SufficiencyCheck
	AllChecksPassed bool
}

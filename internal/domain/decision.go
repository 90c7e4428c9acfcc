package domain

// Action is the outcome of evaluating one candidate at one timestamp.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
	ActionSkip Action = "skip"
)

// Decision is one evaluation result. Reasons are ordered, the first one is
// the primary reason counted in the run summary.
type Decision struct {
	CandidateID string         `json:"candidate_id"`
	Timestamp   int64          `json:"ts"`
	Action      Action         `json:"action"`
	Confidence  float64        `json:"confidence"`
	Reasons     []string       `json:"reasons"`
	Score       *float64       `json:"score,omitempty"` // weighted score, nil when short-circuited
	Features    *FeatureVector `json:"features"`        // nil when the snapshot was absent
}

// PrimaryReason returns the first reason code, or empty if none.
func (d Decision) PrimaryReason() string {
	if len(d.Reasons) == 0 {
		return ""
	}
	return d.Reasons[0]
}

// Override returns a copy with a new action and the given reasons placed
// before the existing ones.
func (d Decision) Override(action Action, confidence float64, reasons ...string) Decision {
	merged := make([]string, 0, len(reasons)+len(d.Reasons))
	merged = append(merged, reasons...)
	merged = append(merged, d.Reasons...)
	d.Action = action
	d.Confidence = confidence
	d.Reasons = merged
	return d
}

// Annotate returns a copy with reasons placed before the existing ones,
// keeping action and confidence.
func (d Decision) Annotate(reasons ...string) Decision {
	return d.Override(d.Action, d.Confidence, reasons...)
}

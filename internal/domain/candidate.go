package domain

// Candidate is a token under evaluation. Immutable once created.
type Candidate struct {
	ID        string `json:"id"`         // mint address
	Symbol    string `json:"symbol"`     // ticker, informational only
	FirstSeen int64  `json:"first_seen"` // first observation (ms)
}

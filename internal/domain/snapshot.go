package domain

import (
	"fmt"
	"math"
)

// MarketSnapshot is one market observation for a candidate at a tick.
type MarketSnapshot struct {
	CandidateID     string  `json:"candidate_id"`
	Timestamp       int64   `json:"ts"`                // observation time (ms)
	Price           float64 `json:"price"`             // USD
	Liquidity       float64 `json:"liquidity"`         // USD pool depth
	Volume          float64 `json:"volume"`            // USD over the provider window
	SpreadBps       float64 `json:"spread_bps"`        // bid/ask spread
	PriceChangePct  float64 `json:"price_change_pct"`  // price change over the provider window
	VolumeChangePct float64 `json:"volume_change_pct"` // volume change over the provider window
}

// Validate checks that the snapshot is usable for evaluation.
// Returned errors wrap ErrMalformedData.
func (m *MarketSnapshot) Validate(candidateID string) error {
	if m.CandidateID != candidateID {
		return fmt.Errorf("%w: market snapshot for %q, expected %q", ErrMalformedData, m.CandidateID, candidateID)
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"price", m.Price},
		{"liquidity", m.Liquidity},
		{"volume", m.Volume},
		{"spread_bps", m.SpreadBps},
		{"price_change_pct", m.PriceChangePct},
		{"volume_change_pct", m.VolumeChangePct},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: market %s is not finite", ErrMalformedData, f.name)
		}
	}
	if m.Price <= 0 {
		return fmt.Errorf("%w: market price must be positive", ErrMalformedData)
	}
	if m.Liquidity < 0 || m.Volume < 0 || m.SpreadBps < 0 {
		return fmt.Errorf("%w: market liquidity, volume and spread must be non-negative", ErrMalformedData)
	}
	return nil
}

// ChainSnapshot is one on-chain observation for a candidate at a tick.
type ChainSnapshot struct {
	CandidateID            string  `json:"candidate_id"`
	Timestamp              int64   `json:"ts"`                       // observation time (ms)
	HolderCount            int64   `json:"holder_count"`             // distinct holders
	TopHolderPct           float64 `json:"top_holder_pct"`           // 0-100, largest non-pool holder
	MintAuthorityRevoked   bool    `json:"mint_authority_revoked"`   // mint authority is None
	FreezeAuthorityRevoked bool    `json:"freeze_authority_revoked"` // freeze authority is None
	LPLockedPct            float64 `json:"lp_locked_pct"`            // 0-100
	TokenAgeSec            int64   `json:"token_age_sec"`            // seconds since mint creation
}

// Validate checks that the snapshot is usable for evaluation.
// Returned errors wrap ErrMalformedData.
func (c *ChainSnapshot) Validate(candidateID string) error {
	if c.CandidateID != candidateID {
		return fmt.Errorf("%w: chain snapshot for %q, expected %q", ErrMalformedData, c.CandidateID, candidateID)
	}
	if c.HolderCount < 0 || c.TokenAgeSec < 0 {
		return fmt.Errorf("%w: chain holder count and token age must be non-negative", ErrMalformedData)
	}
	if !isPct(c.TopHolderPct) {
		return fmt.Errorf("%w: chain top_holder_pct must be within 0-100", ErrMalformedData)
	}
	if !isPct(c.LPLockedPct) {
		return fmt.Errorf("%w: chain lp_locked_pct must be within 0-100", ErrMalformedData)
	}
	return nil
}

// CombinedSnapshot pairs the market and chain observations of one candidate
// at one evaluation timestamp. It is the unit fed to feature extraction.
type CombinedSnapshot struct {
	CandidateID string         `json:"candidate_id"`
	Symbol      string         `json:"symbol"`
	Timestamp   int64          `json:"ts"` // evaluation tick (ms)
	Market      MarketSnapshot `json:"market"`
	Chain       ChainSnapshot  `json:"chain"`
}

func isPct(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// SnapshotRecord is one line of a replayable snapshot dataset. A nil Market
// or Chain marks that feed as absent for the tick. MarketInvalid and
// ChainInvalid hold the cause when the provider reported the feed as
// malformed instead of returning it.
type SnapshotRecord struct {
	Timestamp     int64           `json:"ts"`
	CandidateID   string          `json:"candidate_id"`
	Symbol        string          `json:"symbol,omitempty"`
	Market        *MarketSnapshot `json:"market"`
	Chain         *ChainSnapshot  `json:"chain"`
	MarketInvalid string          `json:"market_invalid,omitempty"`
	ChainInvalid  string          `json:"chain_invalid,omitempty"`
}

// Package scoring turns feature vectors into decisions.
//
// Evaluation order is fixed: disqualifying rules first, in the order listed
// by Disqualifiers, then the weighted score. The first disqualifier that
// fires short-circuits to skip.
package scoring

import (
	"fmt"
	"sort"

	"memetrader/internal/domain"
)

// Disqualifiers configures the hard rules. Zero thresholds disable a rule.
type Disqualifiers struct {
	RequireMintRevoked   bool    `yaml:"require_mint_revoked" json:"require_mint_revoked"`
	RequireFreezeRevoked bool    `yaml:"require_freeze_revoked" json:"require_freeze_revoked"`
	MinLPLockedPct       float64 `yaml:"min_lp_locked_pct" json:"min_lp_locked_pct"`
	MinLiquidityUSD      float64 `yaml:"min_liquidity_usd" json:"min_liquidity_usd"`
	MaxTopHolderPct      float64 `yaml:"max_top_holder_pct" json:"max_top_holder_pct"`
	MinTokenAgeSec       int64   `yaml:"min_token_age_sec" json:"min_token_age_sec"`
	MaxSpreadBps         float64 `yaml:"max_spread_bps" json:"max_spread_bps"`
}

// Config holds thresholds and weights.
type Config struct {
	BuyThreshold  float64            `yaml:"buy_threshold" json:"buy_threshold"`
	SellThreshold float64            `yaml:"sell_threshold" json:"sell_threshold"`
	Bias          float64            `yaml:"bias" json:"bias"`
	Weights       map[string]float64 `yaml:"weights" json:"weights"`
	Disqualifiers Disqualifiers      `yaml:"disqualifiers" json:"disqualifiers"`
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		BuyThreshold:  0.65,
		SellThreshold: 0.35,
		Bias:          -0.3,
		Weights: map[string]float64{
			domain.FeatureLogLiquidity:        0.03,
			domain.FeatureLiquidityRatio:      0.1,
			domain.FeatureHolderConcentration: -0.8,
			domain.FeatureLPLockedPct:         0.003,
			domain.FeatureMomentum:            0.4,
			domain.FeatureLogHolders:          0.02,
		},
		Disqualifiers: Disqualifiers{
			RequireMintRevoked:   true,
			RequireFreezeRevoked: true,
			MinLPLockedPct:       50,
			MinLiquidityUSD:      5000,
			MaxTopHolderPct:      30,
			MinTokenAgeSec:       600,
			MaxSpreadBps:         500,
		},
	}
}

// Validate checks thresholds and weight names.
func (c Config) Validate() error {
	if c.SellThreshold > c.BuyThreshold {
		return &domain.ConfigurationError{
			Field:  "scoring.sell_threshold",
			Reason: fmt.Sprintf("must not exceed buy_threshold (%g > %g)", c.SellThreshold, c.BuyThreshold),
		}
	}
	known := make(map[string]struct{})
	for _, name := range domain.FeatureNames() {
		known[name] = struct{}{}
	}
	for name := range c.Weights {
		if _, ok := known[name]; !ok {
			return &domain.ConfigurationError{
				Field:  "scoring.weights",
				Reason: fmt.Sprintf("unknown feature %q", name),
			}
		}
	}
	return nil
}

// Engine scores feature vectors. It holds no per-candidate state.
type Engine struct {
	cfg   Config
	terms []string // weight names in ascending order
}

// NewEngine creates an Engine after validating cfg.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	terms := make([]string, 0, len(cfg.Weights))
	for name := range cfg.Weights {
		terms = append(terms, name)
	}
	sort.Strings(terms)
	return &Engine{cfg: cfg, terms: terms}, nil
}

// Score evaluates one feature vector. hasOpenPosition gates sell.
func (e *Engine) Score(candidateID string, ts int64, fv domain.FeatureVector, hasOpenPosition bool) domain.Decision {
	d := domain.Decision{
		CandidateID: candidateID,
		Timestamp:   ts,
		Features:    &fv,
	}

	if reason := e.disqualify(&fv); reason != "" {
		d.Action = domain.ActionSkip
		d.Confidence = 1
		d.Reasons = []string{reason}
		return d
	}

	score := e.WeightedScore(&fv)
	d.Score = &score

	switch {
	case score > e.cfg.BuyThreshold:
		d.Action = domain.ActionBuy
		d.Confidence = clamp01(score)
		d.Reasons = []string{domain.ReasonScoreAboveBuyThreshold}
	case score < e.cfg.SellThreshold && hasOpenPosition:
		d.Action = domain.ActionSell
		d.Confidence = clamp01(1 - score)
		d.Reasons = []string{domain.ReasonScoreBelowSellThreshold}
	case score < e.cfg.SellThreshold:
		d.Action = domain.ActionHold
		d.Confidence = clamp01(score)
		d.Reasons = []string{domain.ReasonNoPositionToSell}
	default:
		// Equality with either threshold lands here.
		d.Action = domain.ActionHold
		d.Confidence = clamp01(score)
		d.Reasons = []string{domain.ReasonScoreWithinBand}
	}
	return d
}

// Absent returns the skip decision for a snapshot that could not be assembled.
func (e *Engine) Absent(candidateID string, ts int64, reason string) domain.Decision {
	return domain.Decision{
		CandidateID: candidateID,
		Timestamp:   ts,
		Action:      domain.ActionSkip,
		Confidence:  0,
		Reasons:     []string{reason},
	}
}

// WeightedScore returns bias plus the weighted sum of feature terms,
// accumulated in ascending name order.
func (e *Engine) WeightedScore(fv *domain.FeatureVector) float64 {
	values := fv.Terms()
	score := e.cfg.Bias
	for _, name := range e.terms {
		score += e.cfg.Weights[name] * values[name]
	}
	return score
}

// disqualify returns the first matching disqualifier reason, or "".
func (e *Engine) disqualify(fv *domain.FeatureVector) string {
	dq := e.cfg.Disqualifiers
	switch {
	case dq.RequireMintRevoked && !fv.MintAuthorityRevoked:
		return domain.ReasonMintAuthorityNotRevoked
	case dq.RequireFreezeRevoked && !fv.FreezeAuthorityRevoked:
		return domain.ReasonFreezeAuthorityNotRevoked
	case dq.MinLPLockedPct > 0 && fv.LPLockedPct < dq.MinLPLockedPct:
		return domain.ReasonLPUnlocked
	case dq.MinLiquidityUSD > 0 && fv.LiquidityUSD < dq.MinLiquidityUSD:
		return domain.ReasonLowLiquidity
	case dq.MaxTopHolderPct > 0 && fv.HolderConcentration > dq.MaxTopHolderPct/100:
		return domain.ReasonHolderConcentrationHigh
	case dq.MinTokenAgeSec > 0 && fv.TokenAgeSec < float64(dq.MinTokenAgeSec):
		return domain.ReasonTokenTooYoung
	case dq.MaxSpreadBps > 0 && fv.SpreadBps > dq.MaxSpreadBps:
		return domain.ReasonSpreadTooWide
	}
	return ""
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

package domain

import "sort"

// FeatureVector is the fixed-shape feature set derived from a CombinedSnapshot.
// Boolean features count as 1 or 0 in weighted scoring.
type FeatureVector struct {
	LiquidityUSD           float64 `json:"liquidity_usd"`
	LogLiquidity           float64 `json:"log_liquidity"`
	LiquidityRatio         float64 `json:"liquidity_ratio"` // volume / liquidity, 0 when liquidity is 0
	SpreadBps              float64 `json:"spread_bps"`
	HolderCount            float64 `json:"holder_count"`
	LogHolders             float64 `json:"log_holders"`
	HolderConcentration    float64 `json:"holder_concentration"` // top holder share, 0-1
	MintAuthorityRevoked   bool    `json:"mint_authority_revoked"`
	FreezeAuthorityRevoked bool    `json:"freeze_authority_revoked"`
	LPLockedPct            float64 `json:"lp_locked_pct"`
	TokenAgeSec            float64 `json:"token_age_sec"`
	AgeHours               float64 `json:"age_hours"`
	PriceChangePct         float64 `json:"price_change_pct"`
	VolumeChangePct        float64 `json:"volume_change_pct"`
	Momentum               float64 `json:"momentum"` // squashed price change, -1..1
	Regime                 float64 `json:"regime"`   // trend regime score, 0..1
}

// Feature names as they appear in decisions.jsonl and scoring weights.
const (
	FeatureLiquidityUSD           = "liquidity_usd"
	FeatureLogLiquidity           = "log_liquidity"
	FeatureLiquidityRatio         = "liquidity_ratio"
	FeatureSpreadBps              = "spread_bps"
	FeatureHolderCount            = "holder_count"
	FeatureLogHolders             = "log_holders"
	FeatureHolderConcentration    = "holder_concentration"
	FeatureMintAuthorityRevoked   = "mint_authority_revoked"
	FeatureFreezeAuthorityRevoked = "freeze_authority_revoked"
	FeatureLPLockedPct            = "lp_locked_pct"
	FeatureTokenAgeSec            = "token_age_sec"
	FeatureAgeHours               = "age_hours"
	FeaturePriceChangePct         = "price_change_pct"
	FeatureVolumeChangePct        = "volume_change_pct"
	FeatureMomentum               = "momentum"
	FeatureRegime                 = "regime"
)

// Terms returns every feature as a number keyed by name.
func (f *FeatureVector) Terms() map[string]float64 {
	return map[string]float64{
		FeatureLiquidityUSD:           f.LiquidityUSD,
		FeatureLogLiquidity:           f.LogLiquidity,
		FeatureLiquidityRatio:         f.LiquidityRatio,
		FeatureSpreadBps:              f.SpreadBps,
		FeatureHolderCount:            f.HolderCount,
		FeatureLogHolders:             f.LogHolders,
		FeatureHolderConcentration:    f.HolderConcentration,
		FeatureMintAuthorityRevoked:   boolTerm(f.MintAuthorityRevoked),
		FeatureFreezeAuthorityRevoked: boolTerm(f.FreezeAuthorityRevoked),
		FeatureLPLockedPct:            f.LPLockedPct,
		FeatureTokenAgeSec:            f.TokenAgeSec,
		FeatureAgeHours:               f.AgeHours,
		FeaturePriceChangePct:         f.PriceChangePct,
		FeatureVolumeChangePct:        f.VolumeChangePct,
		FeatureMomentum:               f.Momentum,
		FeatureRegime:                 f.Regime,
	}
}

// FeatureNames returns all feature names in ascending order.
func FeatureNames() []string {
	var f FeatureVector
	terms := f.Terms()
	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func boolTerm(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

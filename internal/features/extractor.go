// Package features derives feature vectors from combined snapshots.
package features

import (
	"math"

	"memetrader/internal/domain"
)

// Config holds static feature parameters.
type Config struct {
	// MomentumScale is the price change (pct) mapped to tanh(1).
	MomentumScale float64 `yaml:"momentum_scale" json:"momentum_scale"`
}

// DefaultConfig returns the default feature parameters.
func DefaultConfig() Config {
	return Config{MomentumScale: 20}
}

// Extract computes the feature vector for a snapshot.
// It is total: zero denominators and non-finite intermediates map to 0.
func Extract(snap domain.CombinedSnapshot, cfg Config) domain.FeatureVector {
	m := snap.Market
	c := snap.Chain

	liquidityRatio := 0.0
	if m.Liquidity > 0 {
		liquidityRatio = m.Volume / m.Liquidity
	}

	momentum := 0.0
	if cfg.MomentumScale > 0 {
		momentum = math.Tanh(m.PriceChangePct / cfg.MomentumScale)
	}

	// Snapshots carry no candle range, so the range term stays neutral.
	regime := RegimeScore(m.PriceChangePct/100, m.VolumeChangePct/100, 1) / 100

	return domain.FeatureVector{
		LiquidityUSD:           finite(m.Liquidity),
		LogLiquidity:           finite(math.Log1p(math.Max(m.Liquidity, 0))),
		LiquidityRatio:         finite(liquidityRatio),
		SpreadBps:              finite(m.SpreadBps),
		HolderCount:            float64(c.HolderCount),
		LogHolders:             finite(math.Log1p(math.Max(float64(c.HolderCount), 0))),
		HolderConcentration:    finite(c.TopHolderPct / 100),
		MintAuthorityRevoked:   c.MintAuthorityRevoked,
		FreezeAuthorityRevoked: c.FreezeAuthorityRevoked,
		LPLockedPct:            finite(c.LPLockedPct),
		TokenAgeSec:            float64(c.TokenAgeSec),
		AgeHours:               float64(c.TokenAgeSec) / 3600,
		PriceChangePct:         finite(m.PriceChangePct),
		VolumeChangePct:        finite(m.VolumeChangePct),
		Momentum:               finite(momentum),
		Regime:                 finite(regime),
	}
}

// finite maps NaN and infinities to 0.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

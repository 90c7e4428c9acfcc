package dataset

import (
	"fmt"
	"time"
)

// SufficiencyCheck is one data sufficiency criterion.
type SufficiencyCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// SufficiencyResult holds all checks.
type SufficiencyResult struct {
	Checks  []SufficiencyCheck
	AllPass bool
}

// Thresholds configures the sufficiency checks. Zero values disable a check.
type Thresholds struct {
	MinCandidates     int           `yaml:"min_candidates" json:"min_candidates"`
	MinTicks          int           `yaml:"min_ticks" json:"min_ticks"`
	MinSpan           time.Duration `yaml:"min_span" json:"min_span"`
	MinMarketCoverage float64       `yaml:"min_market_coverage" json:"min_market_coverage"` // share of records with market data
	MinChainCoverage  float64       `yaml:"min_chain_coverage" json:"min_chain_coverage"`   // share of records with chain data
}

// DefaultThresholds returns lenient defaults suitable for smoke backtests.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCandidates:     1,
		MinTicks:          10,
		MinMarketCoverage: 0.9,
		MinChainCoverage:  0.9,
	}
}

// CheckSufficiency evaluates whether the dataset is large and complete
// enough for a meaningful backtest.
func CheckSufficiency(d *Dataset, th Thresholds) *SufficiencyResult {
	result := &SufficiencyResult{AllPass: true}
	add := func(c SufficiencyCheck) {
		result.Checks = append(result.Checks, c)
		if !c.Pass {
			result.AllPass = false
		}
	}

	candidates := make(map[string]struct{})
	withMarket, withChain := 0, 0
	for _, r := range d.Records {
		candidates[r.CandidateID] = struct{}{}
		if r.Market != nil {
			withMarket++
		}
		if r.Chain != nil {
			withChain++
		}
	}
	n := float64(len(d.Records))

	if th.MinCandidates > 0 {
		add(SufficiencyCheck{
			Name:      "Distinct candidates",
			Threshold: fmt.Sprintf(">= %d", th.MinCandidates),
			Actual:    fmt.Sprintf("%d", len(candidates)),
			Pass:      len(candidates) >= th.MinCandidates,
		})
	}

	if th.MinTicks > 0 {
		ticks := len(d.Ticks())
		add(SufficiencyCheck{
			Name:      "Ticks",
			Threshold: fmt.Sprintf(">= %d", th.MinTicks),
			Actual:    fmt.Sprintf("%d", ticks),
			Pass:      ticks >= th.MinTicks,
		})
	}

	if th.MinSpan > 0 {
		first, last := d.Span()
		span := time.Duration(last-first) * time.Millisecond
		add(SufficiencyCheck{
			Name:      "Time span",
			Threshold: fmt.Sprintf(">= %s", th.MinSpan),
			Actual:    span.String(),
			Pass:      span >= th.MinSpan,
		})
	}

	if th.MinMarketCoverage > 0 {
		cov := float64(withMarket) / n
		add(SufficiencyCheck{
			Name:      "Market coverage",
			Threshold: fmt.Sprintf(">= %.0f%%", th.MinMarketCoverage*100),
			Actual:    fmt.Sprintf("%.1f%%", cov*100),
			Pass:      cov >= th.MinMarketCoverage,
		})
	}

	if th.MinChainCoverage > 0 {
		cov := float64(withChain) / n
		add(SufficiencyCheck{
			Name:      "Chain coverage",
			Threshold: fmt.Sprintf(">= %.0f%%", th.MinChainCoverage*100),
			Actual:    fmt.Sprintf("%.1f%%", cov*100),
			Pass:      cov >= th.MinChainCoverage,
		})
	}

	return result
}

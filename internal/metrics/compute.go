// Package metrics computes performance statistics over closed positions.
package metrics

import (
	"math"
	"sort"

	"memetrader/internal/domain"
)

// Compute calculates run performance from positions in close order.
// Order-dependent statistics (equity curve, drawdown, loss streaks) follow
// the given order, which matches the order of final exits in trades.jsonl.
func Compute(closed []domain.Position) *domain.Performance {
	n := len(closed)
	perf := &domain.Performance{
		ClosedPositions: n,
		EquityCurve:     []float64{},
	}
	if n == 0 {
		return perf
	}

	outcomes := make([]float64, n)
	for i, p := range closed {
		if p.RealizedPnL != nil {
			outcomes[i] = *p.RealizedPnL
		}
	}

	cumulative := 0.0
	for _, o := range outcomes {
		if o > 0 {
			perf.Wins++
			perf.GrossProfit += o
		} else {
			perf.Losses++
			perf.GrossLoss -= o
		}
		cumulative += o
		perf.EquityCurve = append(perf.EquityCurve, cumulative)
	}
	if perf.GrossLoss > 0 {
		pf := perf.GrossProfit / perf.GrossLoss
		perf.ProfitFactor = &pf
	}

	sorted := make([]float64, n)
	copy(sorted, outcomes)
	sort.Float64s(sorted)

	perf.WinRate = computeWinRate(perf.Wins, n)
	perf.Candidates, perf.CandidateWinRate = computeCandidateWinRate(closed, outcomes)
	perf.MeanPnL = computeMean(outcomes)
	perf.MedianPnL = computePercentile(sorted, 0.50)
	perf.PnLStddev = computeStddev(outcomes, perf.MeanPnL)
	perf.MaxDrawdown = computeMaxDrawdown(outcomes)
	perf.MaxConsecLosses = computeMaxConsecutiveLosses(outcomes)
	return perf
}

// computeCandidateWinRate groups outcomes by candidate and counts a
// candidate as winning if at least one of its positions made money.
func computeCandidateWinRate(closed []domain.Position, outcomes []float64) (int, float64) {
	won := make(map[string]bool)
	for i, p := range closed {
		won[p.CandidateID] = won[p.CandidateID] || outcomes[i] > 0
	}
	winners := 0
	for _, w := range won {
		if w {
			winners++
		}
	}
	return len(won), float64(winners) / float64(len(won))
}

func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

func computeMean(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range outcomes {
		sum += o
	}
	return sum / float64(len(outcomes))
}

// computeStddev uses the sample formula (n-1 denominator).
func computeStddev(outcomes []float64, mean float64) float64 {
	n := len(outcomes)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range outcomes {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile interpolates linearly. sorted must be ascending.
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown returns the worst peak-to-trough drop of the
// cumulative P&L, starting from zero.
func computeMaxDrawdown(outcomes []float64) float64 {
	cumulative, peak, maxDrawdown := 0.0, 0.0, 0.0
	for _, o := range outcomes {
		cumulative += o
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds the longest streak of outcome <= 0.
func computeMaxConsecutiveLosses(outcomes []float64) int {
	maxStreak, streak := 0, 0
	for _, o := range outcomes {
		if o > 0 {
			streak = 0
			continue
		}
		streak++
		if streak > maxStreak {
			maxStreak = streak
		}
	}
	return maxStreak
}

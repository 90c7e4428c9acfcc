// Package provider defines the market and chain data capabilities consumed
// by the snapshot assembler. Implementations live in subpackages and are
// selected once at startup.
package provider

import (
	"context"
	"sort"

	"memetrader/internal/domain"
)

// ErrAbsent is returned when a feed has no data for a candidate.
var ErrAbsent = domain.ErrProviderAbsent

// MarketProvider fetches market snapshots.
type MarketProvider interface {
	// Name identifies the implementation, e.g. "mock" or "birdeye".
	Name() string

	// FetchMarket returns the market snapshot of candidateID for the
	// evaluation tick at (ms). Live providers return their latest data.
	// Returns ErrAbsent if there is none.
	FetchMarket(ctx context.Context, candidateID string, at int64) (*domain.MarketSnapshot, error)
}

// ChainProvider fetches on-chain snapshots.
type ChainProvider interface {
	// Name identifies the implementation, e.g. "mock" or "helius".
	Name() string

	// FetchChain returns the chain snapshot of candidateID for the
	// evaluation tick at (ms). Returns ErrAbsent if there is none.
	FetchChain(ctx context.Context, candidateID string, at int64) (*domain.ChainSnapshot, error)
}

// Universe lists the candidates to evaluate on each tick.
type Universe interface {
	Candidates(ctx context.Context) ([]domain.Candidate, error)
}

// StaticUniverse is a fixed candidate list.
type StaticUniverse []domain.Candidate

// Candidates returns the list ordered by id.
func (u StaticUniverse) Candidates(_ context.Context) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, len(u))
	copy(out, u)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Compile-time interface check.
var _ Universe = StaticUniverse(nil)

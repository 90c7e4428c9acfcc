package backtest

import (
	"context"
	"fmt"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/provider"
)

// ReplayProvider serves dataset records as both market and chain feeds.
// A nil feed in a record replays as an absence, and a feed recorded as
// invalid replays as domain.ErrMalformedData.
type ReplayProvider struct {
	records map[replayKey]domain.SnapshotRecord
}

type replayKey struct {
	id string
	ts int64
}

// NewReplayProvider indexes the dataset by (candidate, ts).
func NewReplayProvider(ds *dataset.Dataset) *ReplayProvider {
	p := &ReplayProvider{records: make(map[replayKey]domain.SnapshotRecord, len(ds.Records))}
	for _, r := range ds.Records {
		p.records[replayKey{id: r.CandidateID, ts: r.Timestamp}] = r
	}
	return p
}

// Name returns "replay".
func (p *ReplayProvider) Name() string {
	return "replay"
}

// FetchMarket returns a copy of the recorded market snapshot.
func (p *ReplayProvider) FetchMarket(_ context.Context, candidateID string, at int64) (*domain.MarketSnapshot, error) {
	r, ok := p.records[replayKey{id: candidateID, ts: at}]
	if ok && r.MarketInvalid != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedData, r.MarketInvalid)
	}
	if !ok || r.Market == nil {
		return nil, provider.ErrAbsent
	}
	m := *r.Market
	return &m, nil
}

// FetchChain returns a copy of the recorded chain snapshot.
func (p *ReplayProvider) FetchChain(_ context.Context, candidateID string, at int64) (*domain.ChainSnapshot, error) {
	r, ok := p.records[replayKey{id: candidateID, ts: at}]
	if ok && r.ChainInvalid != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMalformedData, r.ChainInvalid)
	}
	if !ok || r.Chain == nil {
		return nil, provider.ErrAbsent
	}
	c := *r.Chain
	return &c, nil
}

// Compile-time interface checks.
var (
	_ provider.MarketProvider = (*ReplayProvider)(nil)
	_ provider.ChainProvider  = (*ReplayProvider)(nil)
)

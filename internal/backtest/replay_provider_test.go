package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/provider"
	"memetrader/internal/snapshot"
)

// faultyFeed fails the feeds named in bad with a malformed-data error and
// serves healthy snapshots otherwise.
type faultyFeed struct {
	bad map[string]string // candidate id -> "market" or "chain"
}

func (f faultyFeed) Name() string { return "faulty" }

func (f faultyFeed) FetchMarket(_ context.Context, id string, at int64) (*domain.MarketSnapshot, error) {
	if f.bad[id] == "market" {
		return nil, fmt.Errorf("%w: price for %s is negative", domain.ErrMalformedData, id)
	}
	return &domain.MarketSnapshot{CandidateID: id, Timestamp: at, Price: 1, Liquidity: 50000, Volume: 1000}, nil
}

func (f faultyFeed) FetchChain(_ context.Context, id string, at int64) (*domain.ChainSnapshot, error) {
	if f.bad[id] == "chain" {
		return nil, fmt.Errorf("%w: holder count for %s is negative", domain.ErrMalformedData, id)
	}
	if f.bad[id] == "absent" {
		return nil, provider.ErrAbsent
	}
	return &domain.ChainSnapshot{CandidateID: id, Timestamp: at, HolderCount: 500, TopHolderPct: 10, LPLockedPct: 80}, nil
}

func TestReplayProvider_ReproducesAbsences(t *testing.T) {
	feed := faultyFeed{bad: map[string]string{"BAD_CHAIN": "chain", "BAD_MARKET": "market", "NO_CHAIN": "absent"}}
	cands := []domain.Candidate{{ID: "BAD_CHAIN"}, {ID: "BAD_MARKET"}, {ID: "GOOD"}, {ID: "NO_CHAIN"}}
	const ts = 60_000

	live := snapshot.NewAssembler(feed, feed, snapshot.Config{MaxConcurrency: 2}).Collect(context.Background(), ts, cands)

	records := make([]domain.SnapshotRecord, len(live))
	for i, r := range live {
		records[i] = r.Record()
	}
	if records[1].MarketInvalid == "" || records[0].ChainInvalid == "" {
		t.Fatalf("malformed feeds not recorded: %+v", records)
	}
	if records[3].ChainInvalid != "" {
		t.Errorf("absent chain recorded as invalid: %q", records[3].ChainInvalid)
	}

	ds, err := dataset.New("capture", records)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	replay := NewReplayProvider(ds)
	replayed := snapshot.NewAssembler(replay, replay, snapshot.Config{MaxConcurrency: 2}).Collect(context.Background(), ts, cands)

	want := map[string]snapshot.Absence{
		"BAD_CHAIN":  snapshot.Malformed,
		"BAD_MARKET": snapshot.Malformed,
		"GOOD":       snapshot.Present,
		"NO_CHAIN":   snapshot.MissingChain,
	}
	for i, r := range replayed {
		if r.Absence != live[i].Absence {
			t.Errorf("%s: live absence %q, replay absence %q", r.Candidate.ID, live[i].Absence, r.Absence)
		}
		if r.Absence != want[r.Candidate.ID] {
			t.Errorf("%s: absence %q, want %q", r.Candidate.ID, r.Absence, want[r.Candidate.ID])
		}
	}
}

func TestReplayProvider_InvalidFeedWrapsMalformed(t *testing.T) {
	ds, err := dataset.New("test", []domain.SnapshotRecord{{
		Timestamp:     1000,
		CandidateID:   "MINT",
		MarketInvalid: "malformed data: bad price",
	}})
	if err != nil {
		t.Fatal(err)
	}
	p := NewReplayProvider(ds)

	if _, err := p.FetchMarket(context.Background(), "MINT", 1000); !errors.Is(err, domain.ErrMalformedData) {
		t.Errorf("FetchMarket err = %v, want ErrMalformedData", err)
	}
	if _, err := p.FetchChain(context.Background(), "MINT", 1000); !errors.Is(err, provider.ErrAbsent) {
		t.Errorf("FetchChain err = %v, want ErrAbsent", err)
	}
	if _, err := p.FetchMarket(context.Background(), "OTHER", 1000); !errors.Is(err, provider.ErrAbsent) {
		t.Errorf("unknown candidate err = %v, want ErrAbsent", err)
	}
}

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

func ptr[T any](v T) *T {
	return &v
}

func testDecision(id string, ts int64) domain.Decision {
	return domain.Decision{
		CandidateID: id,
		Timestamp:   ts,
		Action:      domain.ActionHold,
		Confidence:  0.5,
		Reasons:     []string{domain.ReasonScoreWithinBand},
		Score:       ptr(0.5),
		Features:    &domain.FeatureVector{LiquidityUSD: 1000},
	}
}

func TestRunStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore()

	sum := domain.RunSummary{
		RunID:        "bt-1",
		ReasonCounts: map[string]int{"a": 1},
		Performance:  &domain.Performance{EquityCurve: []float64{1, 2}, ProfitFactor: ptr(2.0)},
	}
	require.NoError(t, store.InsertRun(ctx, sum))

	got, err := store.GetRun(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, sum, *got)

	// Returned copies do not alias stored state.
	got.ReasonCounts["a"] = 99
	got.Performance.EquityCurve[0] = 99
	again, err := store.GetRun(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.ReasonCounts["a"])
	assert.Equal(t, 1.0, again.Performance.EquityCurve[0])
}

func TestRunStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore()

	assert.ErrorIs(t, store.InsertRun(ctx, domain.RunSummary{}), storage.ErrInvalidInput)

	require.NoError(t, store.InsertRun(ctx, domain.RunSummary{RunID: "r"}))
	assert.ErrorIs(t, store.InsertRun(ctx, domain.RunSummary{RunID: "r"}), storage.ErrDuplicateKey)

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDecisionStore_OrderedBySeq(t *testing.T) {
	ctx := context.Background()
	store := NewDecisionStore()

	require.NoError(t, store.InsertDecision(ctx, "r", 2, testDecision("B", 2)))
	require.NoError(t, store.InsertDecision(ctx, "r", 1, testDecision("A", 1)))
	require.NoError(t, store.InsertDecision(ctx, "other", 1, testDecision("C", 1)))

	got, err := store.GetDecisions(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].CandidateID)
	assert.Equal(t, "B", got[1].CandidateID)

	assert.ErrorIs(t, store.InsertDecision(ctx, "r", 1, testDecision("A", 1)), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.InsertDecision(ctx, "r", 0, testDecision("A", 1)), storage.ErrInvalidInput)

	empty, err := store.GetDecisions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore()

	pending := domain.Trade{TradeID: "t1", CandidateID: "A", Action: domain.TradeExit, Status: domain.TradePending}
	final := pending
	final.Status = domain.TradeFinal
	final.PnLDelta = ptr(-1.5)

	require.NoError(t, store.InsertTrade(ctx, "r", 1, pending))
	require.NoError(t, store.InsertTrade(ctx, "r", 2, final))

	got, err := store.GetTrades(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TradePending, got[0].Status)
	assert.Nil(t, got[0].PnLDelta)
	require.NotNil(t, got[1].PnLDelta)
	assert.Equal(t, -1.5, *got[1].PnLDelta)

	assert.ErrorIs(t, store.InsertTrade(ctx, "r", 3, domain.Trade{}), storage.ErrInvalidInput)
}

func TestSnapshotStore_RangeAndDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore()

	rec := func(ts int64, id string) domain.SnapshotRecord {
		return domain.SnapshotRecord{
			Timestamp:   ts,
			CandidateID: id,
			Market:      &domain.MarketSnapshot{CandidateID: id, Timestamp: ts, Price: 1},
		}
	}

	require.NoError(t, store.InsertSnapshots(ctx, []domain.SnapshotRecord{rec(2, "B"), rec(2, "A"), rec(1, "B")}))
	require.NoError(t, store.InsertSnapshots(ctx, []domain.SnapshotRecord{rec(3, "A")}))

	got, err := store.GetSnapshots(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Timestamp)
	assert.Equal(t, "A", got[1].CandidateID)
	assert.Equal(t, "B", got[2].CandidateID)
	assert.Nil(t, got[0].Chain)

	// A duplicate anywhere in the batch rejects the whole batch.
	err = store.InsertSnapshots(ctx, []domain.SnapshotRecord{rec(4, "A"), rec(1, "B")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	err = store.InsertSnapshots(ctx, []domain.SnapshotRecord{rec(5, "A"), rec(5, "A")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	all, err := store.GetSnapshots(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMirror_IgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	mirror, runs, decisions, trades := NewMirror()

	assert.Equal(t, "memory", mirror.Name())
	for i := 0; i < 2; i++ {
		require.NoError(t, mirror.RecordDecision(ctx, "r", 1, testDecision("A", 1)))
		require.NoError(t, mirror.RecordTrade(ctx, "r", 1, domain.Trade{TradeID: "t1"}))
		require.NoError(t, mirror.RecordSummary(ctx, domain.RunSummary{RunID: "r"}))
	}

	d, _ := decisions.GetDecisions(ctx, "r")
	tr, _ := trades.GetTrades(ctx, "r")
	_, err := runs.GetRun(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, d, 1)
	assert.Len(t, tr, 1)

	err = mirror.RecordTrade(ctx, "r", 2, domain.Trade{})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

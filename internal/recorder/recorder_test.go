package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memetrader/internal/domain"
)

type failingSink struct{ calls int }

func (s *failingSink) Name() string { return "failing" }
func (s *failingSink) RecordDecision(context.Context, string, int, domain.Decision) error {
	s.calls++
	return errors.New("down")
}
func (s *failingSink) RecordTrade(context.Context, string, int, domain.Trade) error {
	s.calls++
	return errors.New("down")
}
func (s *failingSink) RecordSummary(context.Context, domain.RunSummary) error {
	s.calls++
	return errors.New("down")
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func ptr[T any](v T) *T { return &v }

func TestRecorder_WritesArtifactsAndCounts(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Options{Dir: dir, RunID: "run-1", Logger: zerolog.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	decisions := []domain.Decision{
		{CandidateID: "A", Timestamp: 1, Action: domain.ActionBuy, Reasons: []string{domain.ReasonScoreAboveBuyThreshold}},
		{CandidateID: "B", Timestamp: 1, Action: domain.ActionSkip, Reasons: []string{domain.ReasonMissingMarket}},
		{CandidateID: "A", Timestamp: 2, Action: domain.ActionSell, Reasons: []string{domain.ReasonScoreBelowSellThreshold, domain.ReasonExitSignal}},
	}
	for _, d := range decisions {
		require.NoError(t, r.Decision(ctx, d))
	}
	require.NoError(t, r.Trade(ctx, domain.Trade{TradeID: "t1", Action: domain.TradeEnter, Status: domain.TradeFinal}))
	require.NoError(t, r.Trade(ctx, domain.Trade{TradeID: "t2", Action: domain.TradeExit, Status: domain.TradeFinal, PnLDelta: ptr(2.5)}))
	require.NoError(t, r.Trade(ctx, domain.Trade{TradeID: "t3", Action: domain.TradeEnter, Status: domain.TradeRejected}))

	summary, err := r.Finish(ctx, domain.RunSummary{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Decisions)
	assert.Equal(t, 2, summary.TradesFinal)
	assert.Equal(t, 1, summary.TradesRejected)
	assert.InDelta(t, 2.5, summary.TotalPnL, 1e-12)
	assert.Equal(t, map[string]int{
		domain.ReasonScoreAboveBuyThreshold:  1,
		domain.ReasonMissingMarket:  1,
		domain.ReasonScoreBelowSellThreshold: 1,
	}, summary.ReasonCounts)

	lines := readLines(t, filepath.Join(dir, DecisionsFile))
	require.Len(t, lines, 3)
	var first domain.Decision
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "A", first.CandidateID)

	assert.Len(t, readLines(t, filepath.Join(dir, TradesFile)), 3)

	b, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	var onDisk domain.RunSummary
	require.NoError(t, json.Unmarshal(b, &onDisk))
	assert.Equal(t, summary.ReasonCounts, onDisk.ReasonCounts)
	assert.NoFileExists(t, filepath.Join(dir, SnapshotsFile))
}

func TestRecorder_RefusesExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Options{Dir: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = r.Finish(context.Background(), domain.RunSummary{})
	require.NoError(t, err)

	_, err = Open(Options{Dir: dir, Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestRecorder_MirrorFailuresAreCounted(t *testing.T) {
	sink := &failingSink{}
	r, err := Open(Options{Dir: t.TempDir(), Mirrors: []Sink{sink}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.Decision(ctx, domain.Decision{CandidateID: "A", Action: domain.ActionHold, Reasons: []string{domain.ReasonScoreWithinBand}}))
	require.NoError(t, r.Trade(ctx, domain.Trade{TradeID: "t1", Status: domain.TradePending}))

	summary, err := r.Finish(ctx, domain.RunSummary{})
	require.NoError(t, err)
	assert.Equal(t, 3, sink.calls)
	assert.Equal(t, 3, summary.MirrorErrors)
}

func TestRecorder_ClosedRejectsWrites(t *testing.T) {
	r, err := Open(Options{Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = r.Finish(context.Background(), domain.RunSummary{})
	require.NoError(t, err)

	err = r.Decision(context.Background(), domain.Decision{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorder_CapturesSnapshots(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Options{Dir: dir, CaptureSnapshots: true, Logger: zerolog.Nop()})
	require.NoError(t, err)

	recs := []domain.SnapshotRecord{
		{Timestamp: 1, CandidateID: "A", Market: &domain.MarketSnapshot{CandidateID: "A", Timestamp: 1, Price: 1}},
		{Timestamp: 1, CandidateID: "B"},
	}
	require.NoError(t, r.Snapshots(context.Background(), recs))
	_, err = r.Finish(context.Background(), domain.RunSummary{})
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(dir, SnapshotsFile))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"market":null`)
}

package reporting

import (
	"strings"
	"testing"
	"time"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/verification"
)

func ptr(v float64) *float64 { return &v }

func sampleRun() *verification.Run {
	return &verification.Run{
		Dir: "runs/bt-test",
		Decisions: []domain.Decision{
			{CandidateID: "MINT_A", Timestamp: 1000, Action: domain.ActionBuy, Reasons: []string{domain.ReasonScoreAboveBuyThreshold}},
			{CandidateID: "MINT_B", Timestamp: 1000, Action: domain.ActionSkip, Reasons: []string{domain.ReasonMissingMarket}},
			{CandidateID: "MINT_A", Timestamp: 2000, Action: domain.ActionSell, Reasons: []string{domain.ReasonScoreBelowSellThreshold}},
			{CandidateID: "MINT_B", Timestamp: 2000, Action: domain.ActionSkip, Reasons: []string{domain.ReasonMissingMarket}},
		},
		Trades: []domain.Trade{
			{TradeID: "t1", PositionID: "p1", CandidateID: "MINT_A", Action: domain.TradeEnter, Status: domain.TradeFinal,
				Price: 1.0, Size: 100, Timestamp: 1000, Fee: 0.1, Reason: domain.ReasonEntrySignal},
			{TradeID: "t2", PositionID: "p1", CandidateID: "MINT_A", Action: domain.TradeExit, Status: domain.TradeFinal,
				Price: 1.2, Size: 100, Timestamp: 2000, Fee: 0.1, PnLDelta: ptr(19.8), Reason: domain.ReasonExitSignal},
		},
		Summary: domain.RunSummary{
			RunID:      "bt-test",
			ConfigHash: "abc",
			StartedAt:  1000,
			EndedAt:    2000,
			ReasonCounts: map[string]int{
				domain.ReasonScoreAboveBuyThreshold:  1,
				domain.ReasonMissingMarket:           2,
				domain.ReasonScoreBelowSellThreshold: 1,
			},
			TotalPnL:    19.8,
			Decisions:   4,
			Absences:    2,
			TradesFinal: 2,
			TradingMode: "auto",
		},
	}
}

func fixedClock() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestGenerate(t *testing.T) {
	r := NewGenerator(dataset.DefaultThresholds()).WithClock(fixedClock).Generate(sampleRun(), nil)

	if r.Run.RunID != "bt-test" || !r.GeneratedAt.Equal(fixedClock()) {
		t.Errorf("unexpected run section %+v at %v", r.Run, r.GeneratedAt)
	}
	if r.Activity.ActionCounts["skip"] != 2 || r.Activity.ActionCounts["buy"] != 1 {
		t.Errorf("action counts = %v", r.Activity.ActionCounts)
	}

	if len(r.Reasons) != 3 {
		t.Fatalf("expected 3 reason rows, got %d", len(r.Reasons))
	}
	if r.Reasons[0].Reason != domain.ReasonMissingMarket || r.Reasons[0].Share != 0.5 {
		t.Errorf("most frequent reason should come first, got %+v", r.Reasons[0])
	}
	if r.Reasons[1].Reason != domain.ReasonScoreAboveBuyThreshold {
		t.Errorf("ties should sort by reason, got %+v", r.Reasons[1])
	}

	if len(r.Positions) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(r.Positions))
	}
	p := r.Positions[0]
	if p.EntryTs != 1000 || p.ExitTs != 2000 || p.PnL != 19.8 || p.ExitReason != domain.ReasonExitSignal {
		t.Errorf("unexpected position row %+v", p)
	}
	if diff := p.Fees - 0.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fees = %v, want 0.2", p.Fees)
	}

	// Summary without a performance section is recomputed from trades.
	if r.Performance == nil || r.Performance.ClosedPositions != 1 || r.Performance.Wins != 1 {
		t.Errorf("unexpected performance %+v", r.Performance)
	}
	if r.Audit == nil || !r.Audit.OK() {
		t.Errorf("expected clean audit, got %+v", r.Audit)
	}
	if r.DataQuality != nil {
		t.Error("data quality should be absent without snapshots")
	}
}

func TestGenerate_SkipsOpenAndRejectedPositions(t *testing.T) {
	run := sampleRun()
	run.Trades = append(run.Trades,
		domain.Trade{TradeID: "t3", PositionID: "p2", CandidateID: "MINT_B", Action: domain.TradeEnter, Status: domain.TradePending, Timestamp: 2000},
		domain.Trade{TradeID: "t3", PositionID: "p2", CandidateID: "MINT_B", Action: domain.TradeEnter, Status: domain.TradeRejected, Timestamp: 2000},
		domain.Trade{TradeID: "t4", PositionID: "p3", CandidateID: "MINT_C", Action: domain.TradeEnter, Status: domain.TradeFinal, Timestamp: 2000, Price: 2, Size: 5},
	)

	r := NewGenerator(dataset.Thresholds{}).Generate(run, nil)
	if len(r.Positions) != 1 || r.Positions[0].PositionID != "p1" {
		t.Errorf("only the round trip should be listed, got %+v", r.Positions)
	}
}

func TestGenerate_DataQuality(t *testing.T) {
	records := []domain.SnapshotRecord{
		{Timestamp: 1000, CandidateID: "MINT_A"},
		{Timestamp: 2000, CandidateID: "MINT_A"},
	}
	ds, err := dataset.New("snapshots.jsonl", records)
	if err != nil {
		t.Fatal(err)
	}

	r := NewGenerator(dataset.Thresholds{MinTicks: 5}).Generate(sampleRun(), ds)
	if r.DataQuality == nil {
		t.Fatal("expected data quality section")
	}
	if r.DataQuality.Records != 2 || r.DataQuality.AllChecksPassed {
		t.Errorf("unexpected data quality %+v", r.DataQuality)
	}
}

func TestRenderMarkdown(t *testing.T) {
	run := sampleRun()
	run.Summary.TotalPnL = 5 // breaks accounting

	records := []domain.SnapshotRecord{{Timestamp: 1000, CandidateID: "MINT_A"}}
	ds, err := dataset.New("capture", records)
	if err != nil {
		t.Fatal(err)
	}
	md := RenderMarkdown(NewGenerator(dataset.Thresholds{MinCandidates: 1}).WithClock(fixedClock).Generate(run, ds))

	for _, want := range []string{
		"# Run Report: bt-test",
		"Generated: 2025-01-02T03:04:05Z",
		"| Action skip | 2 |",
		"| missing_market | 2 | 50.00% |",
		"## Closed Positions",
		"| p1 | MINT_A | 1000 |",
		"## Data Quality",
		"| Distinct candidates | >= 1 | 1 | PASS |",
		"| accounting |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	run := &verification.Run{Summary: domain.RunSummary{RunID: "live-x"}}
	md := RenderMarkdown(NewGenerator(dataset.Thresholds{}).WithClock(fixedClock).Generate(run, nil))

	if !strings.Contains(md, "No decisions recorded.") || !strings.Contains(md, "No closed positions.") {
		t.Errorf("empty run should render placeholders:\n%s", md)
	}
	if !strings.Contains(md, "All consistency checks passed.") {
		t.Error("empty run should pass the audit")
	}
}

func TestRenderCSV(t *testing.T) {
	r := NewGenerator(dataset.Thresholds{}).Generate(sampleRun(), nil)
	lines := strings.Split(strings.TrimSpace(RenderCSV(r.Positions)), "\n")

	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "position_id,candidate_id,entry_ts") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "p1,MINT_A,1000,") || !strings.HasSuffix(lines[1], ",19.800000,exit_signal") {
		t.Errorf("unexpected row %q", lines[1])
	}
}

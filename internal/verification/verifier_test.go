package verification

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"memetrader/internal/backtest"
	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/execution"
	"memetrader/internal/pipeline"
	"memetrader/internal/recorder"
)

const minute = int64(60_000)

func ptrFloat64(v float64) *float64 { return &v }

func autoConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Execution.Mode = execution.ModeAuto
	cfg.Execution.SignerPubkey = "11111111111111111111111111111111"
	return cfg
}

func record(ts int64, id string, price, change float64) domain.SnapshotRecord {
	return domain.SnapshotRecord{
		Timestamp:   ts,
		CandidateID: id,
		Symbol:      id,
		Market: &domain.MarketSnapshot{
			CandidateID: id, Timestamp: ts, Price: price,
			Liquidity: 100000, Volume: 50000, SpreadBps: 20, PriceChangePct: change,
		},
		Chain: &domain.ChainSnapshot{
			CandidateID: id, Timestamp: ts, HolderCount: 2000, TopHolderPct: 10,
			MintAuthorityRevoked: true, FreezeAuthorityRevoked: true,
			LPLockedPct: 90, TokenAgeSec: 86400,
		},
	}
}

func sampleRecords() []domain.SnapshotRecord {
	prices := []float64{1, 1.1, 1.2, 1.1, 0.9, 1.0, 1.3, 1.6}
	changes := []float64{40, 40, 0, -40, 0, 40, 40, -40}
	var out []domain.SnapshotRecord
	for i := range prices {
		ts := int64(i+1) * minute
		out = append(out, record(ts, "AAA", prices[i], changes[i]))
		b := record(ts, "BBB", 2, changes[(i+2)%len(changes)])
		if i == 3 {
			b.Chain = nil
		}
		out = append(out, b)
	}
	return out
}

// recordedRun backtests the sample and stores the captured snapshots next
// to the artifacts, as a live run with capture does.
func recordedRun(t *testing.T, cfg pipeline.Config) string {
	t.Helper()
	records := sampleRecords()
	ds, err := dataset.New("sample", records)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	r, err := backtest.NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	dir := t.TempDir()
	if _, err := r.Run(context.Background(), ds, dir); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f, err := os.Create(filepath.Join(dir, recorder.SnapshotsFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := dataset.WriteSnapshots(f, records); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestCompareTrades_ExactMatch(t *testing.T) {
	trade := domain.Trade{
		TradeID: "t1", PositionID: "p1", CandidateID: "c1",
		Action: domain.TradeExit, Status: domain.TradeFinal,
		Price: 1.2, Size: 100, Timestamp: 2000, Slippage: 0.001, Fee: 0.3,
		PnLDelta: ptrFloat64(19.4), Reason: domain.ReasonExitSignal,
	}
	replayed := trade
	replayed.PnLDelta = ptrFloat64(19.4 + FloatTolerance/2)

	if div := CompareTrades(trade, replayed); len(div) != 0 {
		t.Errorf("expected 0 divergences, got %v", div)
	}
}

func TestCompareTrades_Divergences(t *testing.T) {
	stored := domain.Trade{TradeID: "t1", Price: 1.2, PnLDelta: ptrFloat64(1)}
	replayed := domain.Trade{TradeID: "t1", Price: 1.2001, Status: domain.TradeFinal}

	div := CompareTrades(stored, replayed)
	fields := map[string]bool{}
	for _, d := range div {
		fields[d.Field] = true
	}
	for _, f := range []string{"price", "status", "pnl_delta"} {
		if !fields[f] {
			t.Errorf("missing divergence on %s: %v", f, div)
		}
	}
	if len(div) != 3 {
		t.Errorf("expected 3 divergences, got %d", len(div))
	}
}

func TestCompareDecisions(t *testing.T) {
	fv := &domain.FeatureVector{Momentum: 0.5, MintAuthorityRevoked: true}
	a := domain.Decision{
		CandidateID: "c1", Timestamp: 1, Action: domain.ActionBuy, Confidence: 0.8,
		Reasons: []string{domain.ReasonScoreAboveBuyThreshold}, Score: ptrFloat64(0.9), Features: fv,
	}
	b := a
	if div := CompareDecisions(a, b); len(div) != 0 {
		t.Errorf("identical decisions diverge: %v", div)
	}

	b.Reasons = []string{domain.ReasonMaxOpenPositions, domain.ReasonScoreAboveBuyThreshold}
	b.Features = &domain.FeatureVector{Momentum: 0.4, MintAuthorityRevoked: true}
	b.Score = nil
	div := CompareDecisions(a, b)
	if len(div) != 3 {
		t.Fatalf("expected reasons, score and features to diverge, got %v", div)
	}
}

func TestVerifyRun_Match(t *testing.T) {
	dir := recordedRun(t, autoConfig())

	v := NewReplayVerifier(ReplayVerifierOptions{Config: autoConfig(), Logger: zerolog.Nop()})
	report, err := v.VerifyRun(context.Background(), dir)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if !report.Match() {
		t.Fatalf("replay diverged: %+v", report)
	}
	if report.Decisions != 16 || report.Trades == 0 {
		t.Errorf("unexpected counts: %d decisions, %d trades", report.Decisions, report.Trades)
	}
}

func TestVerifyRun_DetectsDifferentConfig(t *testing.T) {
	dir := recordedRun(t, autoConfig())

	cfg := autoConfig()
	cfg.Scoring.BuyThreshold = 0.99
	v := NewReplayVerifier(ReplayVerifierOptions{Config: cfg, Logger: zerolog.Nop()})
	report, err := v.VerifyRun(context.Background(), dir)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if report.Match() {
		t.Fatal("expected divergence with a different buy threshold")
	}
	if len(report.Mismatches) == 0 || report.Mismatches[0].Kind != "decision" {
		t.Errorf("expected a decision mismatch first, got %+v", report.Mismatches)
	}
}

func TestVerifyRun_NoCapture(t *testing.T) {
	dir := recordedRun(t, autoConfig())
	if err := os.Remove(filepath.Join(dir, recorder.SnapshotsFile)); err != nil {
		t.Fatal(err)
	}
	v := NewReplayVerifier(ReplayVerifierOptions{Config: autoConfig(), Logger: zerolog.Nop()})
	if _, err := v.VerifyRun(context.Background(), dir); err != ErrNoCapture {
		t.Errorf("expected ErrNoCapture, got %v", err)
	}
}

func TestVerifyDeterminism(t *testing.T) {
	ds, err := dataset.New("sample", sampleRecords())
	if err != nil {
		t.Fatal(err)
	}
	v := NewReplayVerifier(ReplayVerifierOptions{Config: autoConfig(), Logger: zerolog.Nop()})
	same, err := v.VerifyDeterminism(context.Background(), ds)
	if err != nil {
		t.Fatalf("VerifyDeterminism: %v", err)
	}
	if !same {
		t.Error("two replays of the same dataset differ")
	}
}

func TestAudit_CleanRun(t *testing.T) {
	dir := recordedRun(t, autoConfig())
	report, err := AuditDir(dir)
	if err != nil {
		t.Fatalf("AuditDir: %v", err)
	}
	if !report.OK() {
		t.Errorf("clean run has violations: %+v", report.Violations)
	}
}

func TestAudit_Violations(t *testing.T) {
	enter := domain.Trade{TradeID: "e1", PositionID: "p1", CandidateID: "AAA", Action: domain.TradeEnter, Status: domain.TradeFinal, Timestamp: 1}
	enterAgain := domain.Trade{TradeID: "e2", PositionID: "p2", CandidateID: "AAA", Action: domain.TradeEnter, Status: domain.TradeFinal, Timestamp: 2}
	badPnL := domain.Trade{TradeID: "e3", PositionID: "p3", CandidateID: "BBB", Action: domain.TradeEnter, Status: domain.TradePending, PnLDelta: ptrFloat64(5), Timestamp: 2}
	resolvedTwice := domain.Trade{TradeID: "e1", PositionID: "p1", CandidateID: "AAA", Action: domain.TradeEnter, Status: domain.TradeRejected, Timestamp: 3}

	run := &Run{
		Decisions: []domain.Decision{
			{CandidateID: "AAA", Timestamp: 2, Action: domain.ActionBuy, Reasons: []string{domain.ReasonScoreAboveBuyThreshold}},
			{CandidateID: "AAA", Timestamp: 1, Action: domain.ActionHold},
		},
		Trades: []domain.Trade{enter, enterAgain, badPnL, resolvedTwice},
		Summary: domain.RunSummary{
			RunID:        "bt-x",
			Decisions:    2,
			ReasonCounts: map[string]int{domain.ReasonScoreAboveBuyThreshold: 1},
			TotalPnL:     0,
		},
	}

	report := Audit(run)
	got := map[string]int{}
	for _, v := range report.Violations {
		got[v.Check]++
	}
	for _, check := range []string{CheckReasonCounts, CheckTimestamps, CheckAccounting, CheckExclusivity, CheckTradeStatus, CheckOpenAtEnd} {
		if got[check] == 0 {
			t.Errorf("expected a %s violation, got %+v", check, report.Violations)
		}
	}
}

func TestLoadRun_Malformed(t *testing.T) {
	dir := recordedRun(t, autoConfig())
	path := filepath.Join(dir, recorder.TradesFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	_, err = LoadRun(dir)
	if err == nil || !strings.Contains(err.Error(), domain.ErrMalformedData.Error()) {
		t.Errorf("expected malformed data error, got %v", err)
	}
}

func TestReport_JSON(t *testing.T) {
	r := Report{Mismatches: []RecordResult{{Kind: "trade", Key: "t1", Divergences: []FieldDivergence{{Field: "price", Expected: 1.0, Actual: 2.0}}}}}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"field":"price"`) {
		t.Errorf("unexpected encoding %s", b)
	}
}

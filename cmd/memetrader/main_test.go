package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"memetrader/internal/dataset"
	"memetrader/internal/domain"
	"memetrader/internal/recorder"
)

func writeDataset(t *testing.T) string {
	t.Helper()
	var records []domain.SnapshotRecord
	for i := int64(1); i <= 12; i++ {
		ts := i * 60_000
		change := 40.0
		if i > 6 {
			change = -40
		}
		records = append(records, domain.SnapshotRecord{
			Timestamp: ts, CandidateID: "MINT_A", Symbol: "A",
			Market: &domain.MarketSnapshot{CandidateID: "MINT_A", Timestamp: ts, Price: 1 + float64(i)/10,
				Liquidity: 100000, Volume: 50000, SpreadBps: 20, PriceChangePct: change},
			Chain: &domain.ChainSnapshot{CandidateID: "MINT_A", Timestamp: ts, HolderCount: 2000, TopHolderPct: 10,
				MintAuthorityRevoked: true, FreezeAuthorityRevoked: true, LPLockedPct: 90, TokenAgeSec: 86400},
		})
	}
	path := filepath.Join(t.TempDir(), recorder.SnapshotsFile)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := dataset.WriteSnapshots(f, records); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBacktestThenAuditAndVerify(t *testing.T) {
	t.Setenv("TRADING_MODE", "auto")
	t.Setenv("SIGNER_PUBKEY", "11111111111111111111111111111111")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("CLICKHOUSE_DSN", "")

	data := writeDataset(t)
	out := t.TempDir()

	if _, err := execute(t, "hf-backtest", "--dataset", data, "--out", out, "--log-format", "json", "--log-level", "error"); err != nil {
		t.Fatalf("hf-backtest: %v", err)
	}
	entries, err := os.ReadDir(out)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one run directory, got %v (%v)", entries, err)
	}
	runDir := filepath.Join(out, entries[0].Name())
	if _, err := os.Stat(filepath.Join(runDir, recorder.SummaryFile)); err != nil {
		t.Fatalf("summary missing: %v", err)
	}

	if _, err := execute(t, "audit", runDir); err != nil {
		t.Errorf("audit: %v", err)
	}
	if _, err := execute(t, "verify", "--dataset", data, "--log-level", "error"); err != nil {
		t.Errorf("verify: %v", err)
	}

	reportDir := t.TempDir()
	if _, err := execute(t, "report", runDir, "--output-dir", reportDir); err != nil {
		t.Fatalf("report: %v", err)
	}
	md, err := os.ReadFile(filepath.Join(reportDir, reportFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(md, []byte("# Run Report: bt-")) {
		t.Errorf("unexpected report header:\n%s", md[:min(200, len(md))])
	}
	if _, err := os.Stat(filepath.Join(reportDir, positionsFile)); err != nil {
		t.Errorf("positions csv missing: %v", err)
	}
}

func TestBacktestRequiresDataset(t *testing.T) {
	btDataset, btFromArchive = "", false
	if _, err := execute(t, "hf-backtest"); err == nil {
		t.Error("expected an error without --dataset")
	}
}

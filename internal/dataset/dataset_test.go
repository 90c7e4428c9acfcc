package dataset

import (
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"memetrader/internal/domain"
)

func rec(ts int64, id string, withMarket bool) domain.SnapshotRecord {
	r := domain.SnapshotRecord{Timestamp: ts, CandidateID: id}
	if withMarket {
		r.Market = &domain.MarketSnapshot{CandidateID: id, Timestamp: ts, Price: 1, Liquidity: 10000}
	}
	r.Chain = &domain.ChainSnapshot{CandidateID: id, Timestamp: ts, HolderCount: 10}
	return r
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestValidateOrder(t *testing.T) {
	tests := []struct {
		name    string
		records []domain.SnapshotRecord
		wantErr bool
	}{
		{"ordered", []domain.SnapshotRecord{rec(1, "A", true), rec(1, "B", true), rec(2, "A", true)}, false},
		{"unsorted ids within tick", []domain.SnapshotRecord{rec(1, "B", true), rec(1, "A", true)}, false},
		{"time goes back", []domain.SnapshotRecord{rec(2, "A", true), rec(1, "A", true)}, true},
		{"duplicate in tick", []domain.SnapshotRecord{rec(1, "A", true), rec(1, "A", false)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrder(tt.records)
			if tt.wantErr && !errors.Is(err, ErrInvalidOrdering) {
				t.Errorf("expected ErrInvalidOrdering, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDataset_TicksAndDigest(t *testing.T) {
	records := []domain.SnapshotRecord{rec(1, "A", true), rec(1, "B", false), rec(5, "A", true)}
	ds, err := New("mem", records)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ticks := ds.Ticks()
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[0].Timestamp != 1 || len(ticks[0].Records) != 2 {
		t.Errorf("unexpected first tick: %+v", ticks[0])
	}
	if got := ticks[0].Candidates(); got[1].ID != "B" {
		t.Errorf("candidates = %+v", got)
	}

	again, err := New("mem", []domain.SnapshotRecord{rec(1, "A", true), rec(1, "B", false), rec(5, "A", true)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ds.Digest != again.Digest {
		t.Error("digest not stable across identical inputs")
	}

	changed, _ := New("mem", []domain.SnapshotRecord{rec(1, "A", true), rec(1, "B", true), rec(5, "A", true)})
	if ds.Digest == changed.Digest {
		t.Error("digest did not change with content")
	}
}

func TestNew_Empty(t *testing.T) {
	if _, err := New("mem", nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestSnapshots_RoundTripThroughLoad(t *testing.T) {
	dir := t.TempDir()
	records := []domain.SnapshotRecord{rec(1000, "A", true), rec(1000, "B", false), rec(2000, "A", true)}

	var sb strings.Builder
	if err := WriteSnapshots(&sb, records); err != nil {
		t.Fatalf("WriteSnapshots: %v", err)
	}
	path := writeFile(t, dir, "snapshots.jsonl", "\n"+sb.String())

	ds, err := Load(path, DefaultCandleConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ds.Records))
	}
	if ds.Records[1].Market != nil {
		t.Error("absent market should stay nil")
	}
}

func TestReadSnapshots_Malformed(t *testing.T) {
	_, err := ReadSnapshots(strings.NewReader(`{"ts":1,"candidate_id":"A"}` + "\n" + `{not json}`))
	if !errors.Is(err, domain.ErrMalformedData) {
		t.Errorf("expected ErrMalformedData, got %v", err)
	}
}

func TestReadCandles_Formats(t *testing.T) {
	dir := t.TempDir()

	jsonl := `{"t":1700000000,"o":1,"h":2,"l":0.5,"c":1.5,"v":100}
not json
{"timestamp":1700000060,"open":1.5,"high":2,"low":1,"close":1.8,"volume":50}
`
	csvData := "timestamp,open,high,low,close,volume\n1700000000,1,2,0.5,1.5,100\n1700000060,1.5,2,1,1.8,50\n"
	jsonArr := `{"candles":[[1700000000,1,2,0.5,1.5,100],[1700000060,1.5,2,1,1.8,50]]}`

	gzPath := filepath.Join(dir, "pair.jsonl.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(jsonl)); err != nil {
		t.Fatal(err)
	}
	gz.Close()
	f.Close()

	paths := []string{
		writeFile(t, dir, "pair.jsonl", jsonl),
		writeFile(t, dir, "pair.csv", csvData),
		writeFile(t, dir, "pair.json", jsonArr),
		gzPath,
	}
	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			candles, err := ReadCandlesFile(p)
			if err != nil {
				t.Fatalf("ReadCandlesFile: %v", err)
			}
			if len(candles) != 2 {
				t.Fatalf("expected 2 candles, got %d", len(candles))
			}
			if candles[0].T != 1700000000000 {
				t.Errorf("seconds not converted to ms: %d", candles[0].T)
			}
			if candles[1].C != 1.8 {
				t.Errorf("close = %f, want 1.8", candles[1].C)
			}
		})
	}
}

func TestReadCandles_UnsupportedFormat(t *testing.T) {
	p := writeFile(t, t.TempDir(), "pair.parquet", "x")
	if _, err := ReadCandlesFile(p); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFromCandles(t *testing.T) {
	candles := make([]Candle, 6)
	for i := range candles {
		candles[i] = Candle{T: int64(i+1) * 60_000, C: float64(10 + i), V: 10}
	}
	cfg := DefaultCandleConfig()
	cfg.Warmup = 2
	cfg.VolumeWindow = 3
	cfg.MomentumWindow = 2

	records := FromCandles("PAIR", candles, cfg)
	if len(records) != 4 {
		t.Fatalf("expected 4 records after warmup, got %d", len(records))
	}

	first := records[0]
	if first.Timestamp != 180_000 || first.Market.Price != 12 {
		t.Errorf("unexpected first record: ts=%d price=%f", first.Timestamp, first.Market.Price)
	}
	if first.Market.Volume != 30 {
		t.Errorf("rolling volume = %f, want 30", first.Market.Volume)
	}
	// (12 - 10) / 10
	if first.Market.PriceChangePct != 20 {
		t.Errorf("price change = %f, want 20", first.Market.PriceChangePct)
	}
	if first.Chain.TokenAgeSec != cfg.TokenAgeSec+120 {
		t.Errorf("token age = %d", first.Chain.TokenAgeSec)
	}
	if err := first.Market.Validate("PAIR"); err != nil {
		t.Errorf("converted market snapshot invalid: %v", err)
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(`{"t":` + itoa(1700000000+int64(i)*60) + `,"o":1,"h":1,"l":1,"c":1,"v":1}` + "\n")
	}
	writeFile(t, dir, "BBB.jsonl", b.String())
	writeFile(t, dir, "AAA.jsonl", b.String())
	writeFile(t, dir, "notes.txt", "ignored")

	ds, err := Load(dir, DefaultCandleConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// 30 candles minus 25 warmup per pair
	if len(ds.Records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(ds.Records))
	}
	if ds.Records[0].CandidateID != "AAA" || ds.Records[1].CandidateID != "BBB" {
		t.Errorf("records not sorted by ts then id: %s %s", ds.Records[0].CandidateID, ds.Records[1].CandidateID)
	}
}

func TestCheckSufficiency(t *testing.T) {
	ds, err := New("mem", []domain.SnapshotRecord{rec(1, "A", true), rec(1, "B", false), rec(2, "A", true)})
	if err != nil {
		t.Fatal(err)
	}

	res := CheckSufficiency(ds, Thresholds{MinCandidates: 2, MinTicks: 2, MinMarketCoverage: 0.9})
	if res.AllPass {
		t.Error("market coverage of 2/3 should fail a 90% threshold")
	}
	if len(res.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(res.Checks))
	}
	if !res.Checks[0].Pass || !res.Checks[1].Pass || res.Checks[2].Pass {
		t.Errorf("unexpected check results: %+v", res.Checks)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

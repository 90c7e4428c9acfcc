package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"memetrader/internal/domain"
)

// Candle is one OHLCV bar. T is in milliseconds.
type Candle struct {
	T int64
	O float64
	H float64
	L float64
	C float64
	V float64
}

// Accepted column names per candle field.
var candleAliases = [6][]string{
	{"t", "timestamp", "time", "ts"},
	{"o", "open"},
	{"h", "high"},
	{"l", "low"},
	{"c", "close"},
	{"v", "volume"},
}

// Keys under which a row may nest a list of candles.
var candleContainers = []string{"candles", "data", "ohlcv"}

// ReadCandlesFile reads candles from .jsonl, .jsonl.gz, .json or .csv.
// Rows that do not describe a candle are skipped. Candles are returned
// sorted by time with duplicate timestamps dropped.
func ReadCandlesFile(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	var candles []Candle
	switch {
	case strings.HasSuffix(path, ".jsonl.gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		candles, err = ReadCandlesJSONL(gz)
		if err != nil {
			return nil, err
		}
	case strings.HasSuffix(path, ".jsonl"):
		if candles, err = ReadCandlesJSONL(f); err != nil {
			return nil, err
		}
	case strings.HasSuffix(path, ".json"):
		if candles, err = ReadCandlesJSON(f); err != nil {
			return nil, err
		}
	case strings.HasSuffix(path, ".csv"):
		if candles, err = ReadCandlesCSV(f); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return normalizeCandles(candles), nil
}

// ReadCandlesJSONL reads one JSON value per line. Undecodable lines are skipped.
func ReadCandlesJSONL(r io.Reader) ([]Candle, error) {
	var candles []Candle
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var row any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		candles = append(candles, candlesFromRow(row)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	return candles, nil
}

// ReadCandlesJSON reads a JSON array or object. Content that is not a
// single JSON document is retried as JSON lines.
func ReadCandlesJSON(r io.Reader) ([]Candle, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return ReadCandlesJSONL(strings.NewReader(string(b)))
	}
	rows, ok := doc.([]any)
	if !ok {
		rows = []any{doc}
	}
	var candles []Candle
	for _, row := range rows {
		candles = append(candles, candlesFromRow(row)...)
	}
	return candles, nil
}

// ReadCandlesCSV reads a CSV file with a header row.
func ReadCandlesCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var candles []Candle
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			}
		}
		if c, ok := candleFromMap(row); ok {
			candles = append(candles, c)
		}
	}
	return candles, nil
}

func candlesFromRow(row any) []Candle {
	if m, ok := row.(map[string]any); ok {
		for _, key := range candleContainers {
			if items, ok := m[key].([]any); ok {
				var out []Candle
				for _, item := range items {
					if c, ok := candleFromAny(item); ok {
						out = append(out, c)
					}
				}
				return out
			}
		}
	}
	if c, ok := candleFromAny(row); ok {
		return []Candle{c}
	}
	return nil
}

func candleFromAny(v any) (Candle, bool) {
	switch row := v.(type) {
	case map[string]any:
		return candleFromMap(row)
	case []any:
		return candleFromSeq(row)
	}
	return Candle{}, false
}

func candleFromMap(row map[string]any) (Candle, bool) {
	var vals [6]float64
	for i, aliases := range candleAliases {
		found := false
		for _, key := range aliases {
			if raw, ok := row[key]; ok {
				f, ok := toFloat(raw)
				if !ok {
					return Candle{}, false
				}
				vals[i], found = f, true
				break
			}
		}
		if !found {
			return Candle{}, false
		}
	}
	return candleFromValues(vals)
}

func candleFromSeq(row []any) (Candle, bool) {
	if len(row) < 6 {
		return Candle{}, false
	}
	var vals [6]float64
	for i := range vals {
		f, ok := toFloat(row[i])
		if !ok {
			return Candle{}, false
		}
		vals[i] = f
	}
	return candleFromValues(vals)
}

func candleFromValues(v [6]float64) (Candle, bool) {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Candle{}, false
		}
	}
	if v[4] <= 0 || v[5] < 0 {
		return Candle{}, false
	}
	return Candle{T: toMillis(int64(v[0])), O: v[1], H: v[2], L: v[3], C: v[4], V: v[5]}, true
}

// toMillis treats timestamps below 1e11 as seconds.
func toMillis(t int64) int64 {
	if t < 100_000_000_000 {
		return t * 1000
	}
	return t
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func normalizeCandles(candles []Candle) []Candle {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].T < candles[j].T })
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.T == candles[i-1].T {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CandleConfig fills in what candles cannot carry: liquidity, spread and
// the chain-side view of the token.
type CandleConfig struct {
	LiquidityUSD   float64 `yaml:"liquidity_usd" json:"liquidity_usd"`
	SpreadBps      float64 `yaml:"spread_bps" json:"spread_bps"`
	VolumeWindow   int     `yaml:"volume_window" json:"volume_window"`       // candles summed into rolling volume
	MomentumWindow int     `yaml:"momentum_window" json:"momentum_window"`   // candles back for price change
	Warmup         int     `yaml:"warmup" json:"warmup"`                     // leading candles not emitted
	MaxCandles     int     `yaml:"max_candles" json:"max_candles"`           // per pair, 0 = all
	HolderCount    int64   `yaml:"holder_count" json:"holder_count"`
	TopHolderPct   float64 `yaml:"top_holder_pct" json:"top_holder_pct"`
	MintRevoked    bool    `yaml:"mint_revoked" json:"mint_revoked"`
	FreezeRevoked  bool    `yaml:"freeze_revoked" json:"freeze_revoked"`
	LPLockedPct    float64 `yaml:"lp_locked_pct" json:"lp_locked_pct"`
	TokenAgeSec    int64   `yaml:"token_age_sec" json:"token_age_sec"` // age at the first candle
}

// DefaultCandleConfig returns chain defaults that pass the default
// disqualifiers, so candle backtests exercise the score path.
func DefaultCandleConfig() CandleConfig {
	return CandleConfig{
		LiquidityUSD:   100000,
		SpreadBps:      50,
		VolumeWindow:   5,
		MomentumWindow: 20,
		Warmup:         25,
		MaxCandles:     1000,
		HolderCount:    1500,
		TopHolderPct:   12,
		MintRevoked:    true,
		FreezeRevoked:  true,
		LPLockedPct:    90,
		TokenAgeSec:    86400,
	}
}

// FromCandles converts one pair's candles into snapshot records. Prices
// are candle closes; token age grows with candle time.
func FromCandles(pair string, candles []Candle, cfg CandleConfig) []domain.SnapshotRecord {
	if cfg.MaxCandles > 0 && len(candles) > cfg.MaxCandles {
		candles = candles[:cfg.MaxCandles]
	}
	volWindow := max(cfg.VolumeWindow, 1)
	momWindow := max(cfg.MomentumWindow, 1)

	var (
		records []domain.SnapshotRecord
		prevVol float64
	)
	for i, c := range candles {
		vol := 0.0
		for j := max(0, i+1-volWindow); j <= i; j++ {
			vol += candles[j].V
		}
		volChange := 0.0
		if prevVol > 0 {
			volChange = (vol - prevVol) / prevVol * 100
		}
		prevVol = vol

		if i < cfg.Warmup {
			continue
		}

		priceChange := 0.0
		if ref := candles[max(0, i-momWindow)].C; ref > 0 {
			priceChange = (c.C - ref) / ref * 100
		}

		records = append(records, domain.SnapshotRecord{
			Timestamp:   c.T,
			CandidateID: pair,
			Symbol:      pair,
			Market: &domain.MarketSnapshot{
				CandidateID:     pair,
				Timestamp:       c.T,
				Price:           c.C,
				Liquidity:       cfg.LiquidityUSD,
				Volume:          vol,
				SpreadBps:       cfg.SpreadBps,
				PriceChangePct:  priceChange,
				VolumeChangePct: volChange,
			},
			Chain: &domain.ChainSnapshot{
				CandidateID:            pair,
				Timestamp:              c.T,
				HolderCount:            cfg.HolderCount,
				TopHolderPct:           cfg.TopHolderPct,
				MintAuthorityRevoked:   cfg.MintRevoked,
				FreezeAuthorityRevoked: cfg.FreezeRevoked,
				LPLockedPct:            cfg.LPLockedPct,
				TokenAgeSec:            cfg.TokenAgeSec + (c.T-candles[0].T)/1000,
			},
		})
	}
	return records
}

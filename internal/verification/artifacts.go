package verification

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"memetrader/internal/domain"
	"memetrader/internal/recorder"
)

// Run is the decoded content of a run directory.
type Run struct {
	Dir       string
	Decisions []domain.Decision
	Trades    []domain.Trade
	Summary   domain.RunSummary
}

// LoadRun reads decisions.jsonl, trades.jsonl and run_summary.json from dir.
func LoadRun(dir string) (*Run, error) {
	decisions, err := readJSONL[domain.Decision](filepath.Join(dir, recorder.DecisionsFile))
	if err != nil {
		return nil, err
	}
	trades, err := readJSONL[domain.Trade](filepath.Join(dir, recorder.TradesFile))
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(dir, recorder.SummaryFile))
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var summary domain.RunSummary
	if err := json.Unmarshal(b, &summary); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", recorder.SummaryFile, domain.ErrMalformedData, err)
	}
	return &Run{Dir: dir, Decisions: decisions, Trades: trades, Summary: summary}, nil
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("%s line %d: %w: %v", filepath.Base(path), line, domain.ErrMalformedData, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

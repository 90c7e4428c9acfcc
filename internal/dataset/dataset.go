// Package dataset loads finite, ordered historical datasets for replay.
//
// A dataset is a sequence of snapshot records ordered by timestamp. It is
// either a snapshots.jsonl file (as captured by a live run) or candle files
// converted into snapshots.
package dataset

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"memetrader/internal/domain"
)

var (
	// ErrInvalidOrdering is returned when records are not in timestamp order
	// or a candidate appears twice at the same timestamp.
	ErrInvalidOrdering = errors.New("dataset records are not in deterministic order")
	// ErrUnsupportedFormat is returned for files no loader understands.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	// ErrEmpty is returned when a dataset holds no records.
	ErrEmpty = errors.New("dataset is empty")
)

// Dataset is an ordered, finite set of snapshot records.
type Dataset struct {
	Records []domain.SnapshotRecord
	Digest  string // sha256 over the canonical JSON lines
	Source  string
}

// Tick groups the records sharing one timestamp.
type Tick struct {
	Timestamp int64
	Records   []domain.SnapshotRecord
}

// Candidates returns the tick's candidates in record order.
func (t Tick) Candidates() []domain.Candidate {
	out := make([]domain.Candidate, len(t.Records))
	for i, r := range t.Records {
		out[i] = domain.Candidate{ID: r.CandidateID, Symbol: r.Symbol}
	}
	return out
}

// New validates ordering and computes the digest.
func New(source string, records []domain.SnapshotRecord) (*Dataset, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	if err := ValidateOrder(records); err != nil {
		return nil, err
	}
	digest, err := Digest(records)
	if err != nil {
		return nil, err
	}
	return &Dataset{Records: records, Digest: digest, Source: source}, nil
}

// Ticks groups records by timestamp, ascending.
func (d *Dataset) Ticks() []Tick {
	var ticks []Tick
	for _, r := range d.Records {
		if n := len(ticks); n > 0 && ticks[n-1].Timestamp == r.Timestamp {
			ticks[n-1].Records = append(ticks[n-1].Records, r)
			continue
		}
		ticks = append(ticks, Tick{Timestamp: r.Timestamp, Records: []domain.SnapshotRecord{r}})
	}
	return ticks
}

// Span returns the first and last timestamps.
func (d *Dataset) Span() (int64, int64) {
	return d.Records[0].Timestamp, d.Records[len(d.Records)-1].Timestamp
}

// ValidateOrder checks that timestamps never decrease and that no
// candidate appears twice within a tick.
func ValidateOrder(records []domain.SnapshotRecord) error {
	seen := make(map[string]struct{})
	for i, r := range records {
		if i > 0 {
			prev := records[i-1].Timestamp
			if r.Timestamp < prev {
				return fmt.Errorf("%w: record %d ts %d after %d", ErrInvalidOrdering, i, r.Timestamp, prev)
			}
			if r.Timestamp != prev {
				seen = make(map[string]struct{})
			}
		}
		if _, dup := seen[r.CandidateID]; dup {
			return fmt.Errorf("%w: duplicate candidate %s at ts %d", ErrInvalidOrdering, r.CandidateID, r.Timestamp)
		}
		seen[r.CandidateID] = struct{}{}
	}
	return nil
}

// SortRecords orders records by (ts ASC, candidate_id ASC).
func SortRecords(records []domain.SnapshotRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].CandidateID < records[j].CandidateID
	})
}

// Digest hashes the canonical JSON encoding of records.
func Digest(records []domain.SnapshotRecord) (string, error) {
	h := sha256.New()
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("digest record: %w", err)
		}
		h.Write(b)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Load reads a dataset from a file or a directory of candle files.
// Snapshot files are recognized by content; everything else is read as
// candles and converted with cfg.
func Load(path string, cfg CandleConfig) (*Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	if info.IsDir() {
		return loadDir(path, cfg)
	}

	isSnap, err := isSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	if isSnap {
		records, err := ReadSnapshotsFile(path)
		if err != nil {
			return nil, err
		}
		return New(path, records)
	}

	candles, err := ReadCandlesFile(path)
	if err != nil {
		return nil, err
	}
	return New(path, FromCandles(PairName(path), candles, cfg))
}

func loadDir(dir string, cfg CandleConfig) (*Dataset, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsDataFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dataset dir: %w", err)
	}
	sort.Strings(files)

	var records []domain.SnapshotRecord
	for _, f := range files {
		candles, err := ReadCandlesFile(f)
		if err != nil {
			return nil, err
		}
		records = append(records, FromCandles(PairName(f), candles, cfg)...)
	}
	SortRecords(records)
	return New(dir, records)
}

// IsDataFile reports whether name has a supported extension.
func IsDataFile(name string) bool {
	for _, ext := range []string{".jsonl.gz", ".jsonl", ".json", ".csv"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// PairName strips directory and every extension from path.
func PairName(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// isSnapshotFile peeks at the first non-empty line of a .jsonl file for a
// candidate_id key.
func isSnapshotFile(path string) (bool, error) {
	if !strings.HasSuffix(path, ".jsonl") {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var sniff struct {
			CandidateID *string `json:"candidate_id"`
		}
		if err := json.Unmarshal([]byte(line), &sniff); err != nil {
			return false, nil
		}
		return sniff.CandidateID != nil, nil
	}
	return false, sc.Err()
}

package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"memetrader/internal/domain"
)

const maxLineBytes = 4 * 1024 * 1024

// ReadSnapshots decodes snapshot records, one JSON object per line.
// Blank lines are ignored; an undecodable line is an error.
func ReadSnapshots(r io.Reader) ([]domain.SnapshotRecord, error) {
	var records []domain.SnapshotRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec domain.SnapshotRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, domain.ErrMalformedData, err)
		}
		if rec.CandidateID == "" {
			return nil, fmt.Errorf("line %d: %w: missing candidate_id", line, domain.ErrMalformedData)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	return records, nil
}

// ReadSnapshotsFile reads a snapshots.jsonl file.
func ReadSnapshotsFile(path string) ([]domain.SnapshotRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshots: %w", err)
	}
	defer f.Close()
	return ReadSnapshots(f)
}

// WriteSnapshots encodes records one per line.
func WriteSnapshots(w io.Writer, records []domain.SnapshotRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}
	return nil
}

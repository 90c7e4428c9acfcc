package memory

import (
	"context"
	"sort"
	"sync"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

type snapshotKey struct {
	ts          int64
	candidateID string
}

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[snapshotKey]domain.SnapshotRecord
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[snapshotKey]domain.SnapshotRecord),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertSnapshots adds records atomically. Fails entire batch on any duplicate.
func (s *SnapshotStore) InsertSnapshots(_ context.Context, records []domain.SnapshotRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[snapshotKey]struct{}, len(records))
	for _, r := range records {
		if r.CandidateID == "" {
			return storage.ErrInvalidInput
		}
		k := snapshotKey{r.Timestamp, r.CandidateID}
		if _, exists := s.data[k]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[k]; exists {
			return storage.ErrDuplicateKey
		}
		batch[k] = struct{}{}
	}

	for _, r := range records {
		s.data[snapshotKey{r.Timestamp, r.CandidateID}] = copyRecord(r)
	}
	return nil
}

// GetSnapshots retrieves records within [start, end] ordered by ts then candidate id.
func (s *SnapshotStore) GetSnapshots(_ context.Context, start, end int64) ([]domain.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SnapshotRecord
	for k, r := range s.data {
		if k.ts >= start && k.ts <= end {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].CandidateID < out[j].CandidateID
	})
	return out, nil
}

func copyRecord(r domain.SnapshotRecord) domain.SnapshotRecord {
	if r.Market != nil {
		m := *r.Market
		r.Market = &m
	}
	if r.Chain != nil {
		c := *r.Chain
		r.Chain = &c
	}
	return r
}

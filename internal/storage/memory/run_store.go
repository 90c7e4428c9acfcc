// Package memory provides in-memory stores for tests and runs without a
// database.
package memory

import (
	"context"
	"sync"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]domain.RunSummary // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]domain.RunSummary),
	}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// InsertRun adds a run summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) InsertRun(_ context.Context, sum domain.RunSummary) error {
	if sum.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sum.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[sum.RunID] = copySummary(sum)
	return nil
}

// GetRun retrieves a run summary. Returns ErrNotFound if not exists.
func (s *RunStore) GetRun(_ context.Context, runID string) (*domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, ok := s.data[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := copySummary(sum)
	return &out, nil
}

func copySummary(s domain.RunSummary) domain.RunSummary {
	s.ReasonCounts = copyCounts(s.ReasonCounts)
	s.ActionCounts = copyCounts(s.ActionCounts)
	if s.Performance != nil {
		p := *s.Performance
		p.EquityCurve = append([]float64(nil), p.EquityCurve...)
		if p.ProfitFactor != nil {
			v := *p.ProfitFactor
			p.ProfitFactor = &v
		}
		s.Performance = &p
	}
	return s
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package memory

import (
	"context"
	"sort"
	"sync"

	"memetrader/internal/domain"
	"memetrader/internal/storage"
)

type seqKey struct {
	runID string
	seq   int
}

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu   sync.RWMutex
	data map[seqKey]domain.Decision
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		data: make(map[seqKey]domain.Decision),
	}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// InsertDecision adds a decision. Returns ErrDuplicateKey if (run_id, seq) exists.
func (s *DecisionStore) InsertDecision(_ context.Context, runID string, seq int, d domain.Decision) error {
	if runID == "" || seq < 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := seqKey{runID, seq}
	if _, exists := s.data[k]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[k] = copyDecision(d)
	return nil
}

// GetDecisions retrieves a run's decisions ordered by seq.
func (s *DecisionStore) GetDecisions(_ context.Context, runID string) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := runKeys(s.data, runID)
	out := make([]domain.Decision, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyDecision(s.data[k]))
	}
	return out, nil
}

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[seqKey]domain.Trade
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[seqKey]domain.Trade),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// InsertTrade adds a trade record. Returns ErrDuplicateKey if (run_id, seq) exists.
func (s *TradeStore) InsertTrade(_ context.Context, runID string, seq int, t domain.Trade) error {
	if runID == "" || seq < 1 || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := seqKey{runID, seq}
	if _, exists := s.data[k]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[k] = copyTrade(t)
	return nil
}

// GetTrades retrieves a run's trade records ordered by seq.
func (s *TradeStore) GetTrades(_ context.Context, runID string) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := runKeys(s.data, runID)
	out := make([]domain.Trade, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyTrade(s.data[k]))
	}
	return out, nil
}

// NewMirror returns a recorder sink backed by fresh in-memory stores,
// along with the stores for inspection.
func NewMirror() (*storage.Mirror, *RunStore, *DecisionStore, *TradeStore) {
	runs, decisions, trades := NewRunStore(), NewDecisionStore(), NewTradeStore()
	return storage.NewMirror("memory", runs, decisions, trades), runs, decisions, trades
}

func runKeys[V any](data map[seqKey]V, runID string) []seqKey {
	var keys []seqKey
	for k := range data {
		if k.runID == runID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].seq < keys[j].seq })
	return keys
}

func copyDecision(d domain.Decision) domain.Decision {
	d.Reasons = append([]string(nil), d.Reasons...)
	if d.Score != nil {
		v := *d.Score
		d.Score = &v
	}
	if d.Features != nil {
		fv := *d.Features
		d.Features = &fv
	}
	return d
}

func copyTrade(t domain.Trade) domain.Trade {
	if t.PnLDelta != nil {
		v := *t.PnLDelta
		t.PnLDelta = &v
	}
	return t
}

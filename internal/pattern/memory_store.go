package pattern

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*Stats
}

// NewMemoryStore creates an in-memory pattern store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Stats)}
}

func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[fingerprint]
	if !ok {
		return nil, ErrNoHistory
	}
	return copyStats(row), nil
}

func (s *MemoryStore) RecordOutcome(ctx context.Context, fingerprint, requestType string, success bool, at time.Time) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[fingerprint]
	if !ok {
		row = &Stats{Fingerprint: fingerprint, RequestType: requestType}
		s.rows[fingerprint] = row
	}

	if success {
		row.SuccessCount++
		t := at
		row.LastSuccessAt = &t
	} else {
		row.FailureCount++
	}
	row.UpdatedAt = at
	row.ConfidenceScore = Confidence(row, at)

	return copyStats(row), nil
}

func (s *MemoryStore) All(ctx context.Context) ([]*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Stats, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, copyStats(row))
	}
	return out, nil
}

func (s *MemoryStore) UpdateConfidence(ctx context.Context, fingerprint string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[fingerprint]
	if !ok {
		return ErrNoHistory
	}
	row.ConfidenceScore = score
	return nil
}

func copyStats(row *Stats) *Stats {
	c := *row
	if row.LastSuccessAt != nil {
		t := *row.LastSuccessAt
		c.LastSuccessAt = &t
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)

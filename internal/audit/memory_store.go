package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Decision
	// ordered oldest-first by timestamp for window scans and purges
	ordered []*Decision
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Decision)}
}

func (s *MemoryStore) Append(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyDecision(d)
	s.byID[c.ID] = c
	s.ordered = append(s.ordered, c)
	// Appends arrive roughly in time order; restore order cheaply when not.
	if n := len(s.ordered); n > 1 && s.ordered[n-2].Timestamp.After(c.Timestamp) {
		sort.SliceStable(s.ordered, func(i, j int) bool {
			return s.ordered[i].Timestamp.Before(s.ordered[j].Timestamp)
		})
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return copyDecision(d), nil
}

func (s *MemoryStore) SetOutcome(ctx context.Context, id string, outcome OutcomeKind, errorDetail string, at time.Time) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	if d.Resolved() {
		return nil, ErrAlreadyResolved
	}

	d.Outcome = outcome
	d.ErrorDetail = errorDetail
	t := at
	d.OutcomeAt = &t

	return copyDecision(d), nil
}

func (s *MemoryStore) Query(ctx context.Context, f QueryFilter) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Decision
	// newest first
	for i := len(s.ordered) - 1; i >= 0; i-- {
		d := s.ordered[i]
		if !matches(d, f) {
			continue
		}
		out = append(out, copyDecision(d))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func matches(d *Decision, f QueryFilter) bool {
	if !f.Since.IsZero() && d.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && d.Timestamp.After(f.Until) {
		return false
	}
	if f.AgentID != "" && d.AgentID != f.AgentID {
		return false
	}
	if f.RequestType != "" && d.RequestType != f.RequestType {
		return false
	}
	if f.AutoAccepted != nil && d.AutoAccepted != *f.AutoAccepted {
		return false
	}
	if f.Outcome != "" && d.Outcome != f.Outcome {
		return false
	}
	if f.MinRiskLevel > 0 && d.RiskLevel < f.MinRiskLevel {
		return false
	}
	if !f.Before.IsZero() {
		if d.Timestamp.After(f.Before) {
			return false
		}
		if d.Timestamp.Equal(f.Before) && (f.BeforeID == "" || d.ID >= f.BeforeID) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) RecentStats(ctx context.Context, window time.Duration, now time.Time) (*WindowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(-window)
	stats := &WindowStats{}
	for i := len(s.ordered) - 1; i >= 0; i-- {
		d := s.ordered[i]
		if d.Timestamp.Before(cutoff) {
			break
		}
		stats.Total++
		if d.AutoAccepted {
			stats.Accepted++
		}
	}
	// Failures are windowed on when the outcome was recorded, not when the
	// decision was evaluated: a slow operation that fails an hour later
	// still counts against the current window. Recent outcomes can sit on
	// arbitrarily old decisions, so this cannot share the early break.
	for _, d := range s.ordered {
		if d.Outcome == OutcomeFailure && d.OutcomeAt != nil && !d.OutcomeAt.Before(cutoff) {
			stats.Failures++
		}
	}
	return stats, nil
}

func (s *MemoryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := 0
	for keep < len(s.ordered) && s.ordered[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0, nil
	}

	for _, d := range s.ordered[:keep] {
		delete(s.byID, d.ID)
	}
	s.ordered = append([]*Decision(nil), s.ordered[keep:]...)
	return int64(keep), nil
}

func copyDecision(d *Decision) *Decision {
	c := *d
	if d.Attributes != nil {
		c.Attributes = make(map[string]string, len(d.Attributes))
		for k, v := range d.Attributes {
			c.Attributes[k] = v
		}
	}
	if d.Reasoning != nil {
		c.Reasoning = append([]string(nil), d.Reasoning...)
	}
	if d.OutcomeAt != nil {
		t := *d.OutcomeAt
		c.OutcomeAt = &t
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)

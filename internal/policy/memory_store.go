package policy

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*SOPRule
}

// NewMemoryStore creates an in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*SOPRule)}
}

func (s *MemoryStore) Create(ctx context.Context, r *SOPRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = copyRule(r)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SOPRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return copyRule(r), nil
}

func (s *MemoryStore) ListByType(ctx context.Context, requestType string) ([]*SOPRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SOPRule
	for _, r := range s.rules {
		if r.RequestType == requestType {
			out = append(out, copyRule(r))
		}
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*SOPRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SOPRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, copyRule(r))
	}
	sortRules(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, r *SOPRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return ErrRuleNotFound
	}
	s.rules[r.ID] = copyRule(r)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules), nil
}

func sortRules(rules []*SOPRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Position != rules[j].Position {
			return rules[i].Position < rules[j].Position
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

func copyRule(r *SOPRule) *SOPRule {
	c := *r
	if r.Conditions != nil {
		c.Conditions = make([]Condition, len(r.Conditions))
		for i, cond := range r.Conditions {
			c.Conditions[i] = cond
			if cond.Values != nil {
				c.Conditions[i].Values = append([]string(nil), cond.Values...)
			}
		}
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)

package policy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRuleCacheTTL is how long rules are cached before re-fetching.
const DefaultRuleCacheTTL = 30 * time.Second

// Result is the policy engine's verdict plus its reasoning trail. Every
// applicable rule contributes a reason, pass or fail, so the caller can
// always explain the verdict.
type Result struct {
	Approved  bool     `json:"approved"`
	Reasons   []string `json:"reasons"`
	Evaluated int      `json:"evaluated"` // applicable rules seen
	Approvals int      `json:"approvals"`
}

// ruleCacheEntry holds cached rules for a request type.
type ruleCacheEntry struct {
	rules     []*SOPRule
	fetchedAt time.Time
}

// Evaluator applies SOP rules to classified requests.
type Evaluator struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*ruleCacheEntry
}

// NewEvaluator creates a rule evaluator with the default cache TTL.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{
		store:    store,
		cacheTTL: DefaultRuleCacheTTL,
		cache:    make(map[string]*ruleCacheEntry),
	}
}

// WithCacheTTL overrides the default rule cache TTL.
func (e *Evaluator) WithCacheTTL(ttl time.Duration) *Evaluator {
	e.cacheTTL = ttl
	return e
}

// InvalidateCache drops cached rules for a request type ("" drops all).
// Call after rule CRUD operations.
func (e *Evaluator) InvalidateCache(requestType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if requestType == "" {
		e.cache = make(map[string]*ruleCacheEntry)
		return
	}
	delete(e.cache, requestType)
}

func (e *Evaluator) cachedList(ctx context.Context, requestType string) ([]*SOPRule, error) {
	now := time.Now()

	e.mu.RLock()
	entry, ok := e.cache[requestType]
	if ok && now.Sub(entry.fetchedAt) < e.cacheTTL {
		e.mu.RUnlock()
		return entry.rules, nil
	}
	e.mu.RUnlock()

	rules, err := e.store.ListByType(ctx, requestType)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[requestType] = &ruleCacheEntry{rules: rules, fetchedAt: now}
	e.mu.Unlock()

	return rules, nil
}

// Evaluate runs every enabled rule for the request type, in stored order.
//
// A rule whose conditions don't match the request is skipped silently. An
// applicable rule fails on a breached risk ceiling or confidence floor; that
// failure does not short-circuit other rules, which may still independently
// approve. A verification-required rule that otherwise passes is an explicit
// deny: that class of rule never auto-approves anything.
//
// The final verdict is approved only when at least one applicable rule
// approved and none explicitly denied. Zero applicable rules is a deny: the
// engine requires a positive grant, never a default allow.
func (e *Evaluator) Evaluate(ctx context.Context, requestType string, attrs map[string]string, riskLevel int, confidence float64) (*Result, error) {
	rules, err := e.cachedList(ctx, requestType)
	if err != nil {
		return nil, fmt.Errorf("policy: list rules: %w", err) // caller fails closed
	}

	res := &Result{}
	explicitDeny := false

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !conditionsMatch(rule.Conditions, attrs) {
			continue
		}
		res.Evaluated++

		switch {
		case riskLevel > rule.MaxRiskLevel:
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"rule %q: risk level %d exceeds ceiling %d", rule.Name, riskLevel, rule.MaxRiskLevel))
		case confidence < rule.RequiredConfidence:
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"rule %q: confidence %.3f below required %.3f", rule.Name, confidence, rule.RequiredConfidence))
		case rule.RequiresVerification:
			explicitDeny = true
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"rule %q: requires manual verification", rule.Name))
		default:
			res.Approvals++
			res.Reasons = append(res.Reasons, fmt.Sprintf(
				"rule %q: approved (risk %d <= %d, confidence %.3f >= %.3f)",
				rule.Name, riskLevel, rule.MaxRiskLevel, confidence, rule.RequiredConfidence))
		}
	}

	if res.Evaluated == 0 {
		res.Reasons = append(res.Reasons, "no applicable policy rule for "+requestType)
		return res, nil
	}

	res.Approved = res.Approvals > 0 && !explicitDeny
	return res, nil
}

func conditionsMatch(conds []Condition, attrs map[string]string) bool {
	for _, c := range conds {
		if !c.Matches(attrs) {
			return false
		}
	}
	return true
}

// Package emergency holds the process-wide kill switch. Once tripped, every
// evaluation denies until an operator resets it.
package emergency

import (
	"crypto/hmac"
	"crypto/sha256"
	"sync"
	"time"
)

// Trip thresholds, evaluated over the trailing window after every failure.
const (
	DefaultWindow      = time.Hour
	DefaultMaxFailures = 5
	DefaultMaxRatio    = 0.3
)

// State is a snapshot of the controller for reporting.
type State struct {
	Tripped         bool       `json:"tripped"`
	Reason          string     `json:"reason,omitempty"`
	TrippedAt       *time.Time `json:"tripped_at,omitempty"`
	RecentDecisions int        `json:"recent_decisions"`
	RecentFailures  int        `json:"recent_failures"`
}

// Controller tracks rolling failure windows across all decisions. The
// tripped flag is read on every evaluation, so all access is behind one
// mutex and the hot path does no allocation.
type Controller struct {
	mu        sync.Mutex
	tripped   bool
	reason    string
	trippedAt time.Time

	decisions []time.Time
	failures  []time.Time

	window      time.Duration
	maxFailures int
	maxRatio    float64
	adminSecret string
}

// Option configures a Controller.
type Option func(*Controller)

// WithThresholds overrides the trip window and limits.
func WithThresholds(window time.Duration, maxFailures int, maxRatio float64) Option {
	return func(c *Controller) {
		c.window = window
		c.maxFailures = maxFailures
		c.maxRatio = maxRatio
	}
}

// NewController builds a controller. adminSecret authorizes Reset; an empty
// secret means Reset always refuses.
func NewController(adminSecret string, opts ...Option) *Controller {
	c := &Controller{
		window:      DefaultWindow,
		maxFailures: DefaultMaxFailures,
		maxRatio:    DefaultMaxRatio,
		adminSecret: adminSecret,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsTripped reports whether the kill switch is active.
func (c *Controller) IsTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped
}

// RecordDecision notes one evaluation. Decisions form the denominator of
// the failure ratio.
func (c *Controller) RecordDecision() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions = prune(append(c.decisions, now), now.Add(-c.window))
}

// RecordFailure notes a failed outcome and re-evaluates the trip
// conditions: too many failures in the window, or failures making up too
// large a share of recent decisions.
func (c *Controller) RecordFailure() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.window)
	c.failures = prune(append(c.failures, now), cutoff)
	c.decisions = prune(c.decisions, cutoff)

	nf, nd := len(c.failures), len(c.decisions)
	switch {
	case nf >= c.maxFailures:
		c.trip(now, "failure count threshold exceeded")
	case nd > 0 && float64(nf)/float64(nd) > c.maxRatio:
		c.trip(now, "failure ratio threshold exceeded")
	}
}

// Trip forces the switch open, regardless of recent history.
func (c *Controller) Trip(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trip(time.Now(), reason)
}

// Reset clears the switch if token matches the admin secret. The comparison
// is constant time. Returns false on a bad token; the switch stays tripped.
func (c *Controller) Reset(token string) bool {
	if c.adminSecret == "" || !tokenMatch(token, c.adminSecret) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tripped = false
	c.reason = ""
	c.trippedAt = time.Time{}
	c.failures = c.failures[:0]
	c.decisions = c.decisions[:0]
	return true
}

// State returns a snapshot for health checks and reporting.
func (c *Controller) State() State {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.window)
	c.failures = prune(c.failures, cutoff)
	c.decisions = prune(c.decisions, cutoff)

	s := State{
		Tripped:         c.tripped,
		Reason:          c.reason,
		RecentDecisions: len(c.decisions),
		RecentFailures:  len(c.failures),
	}
	if c.tripped {
		at := c.trippedAt
		s.TrippedAt = &at
	}
	return s
}

func (c *Controller) trip(at time.Time, reason string) {
	if c.tripped {
		return
	}
	c.tripped = true
	c.reason = reason
	c.trippedAt = at
}

// prune drops timestamps at or before cutoff, reusing the backing array.
// Timestamps are appended in order, so the survivors are a suffix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// tokenMatch hashes both sides so the comparison length is fixed.
func tokenMatch(token, secret string) bool {
	a := sha256.Sum256([]byte(token))
	b := sha256.Sum256([]byte(secret))
	return hmac.Equal(a[:], b[:])
}

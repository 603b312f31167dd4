// Package audit keeps the append-only record of every decision and outcome.
//
// The log is independent of the decision path: it persists denials as well as
// approvals, supports compliance queries and replay, and serves the trailing
// failure-window reads the safety gate and emergency controller depend on.
package audit

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrDecisionNotFound = errors.New("audit: decision not found")
	ErrAlreadyResolved  = errors.New("audit: decision outcome already recorded")
)

// OutcomeKind is what eventually happened to an approved or overridden operation.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeFailure        OutcomeKind = "failure"
	OutcomePartial        OutcomeKind = "partial"
	OutcomeRolledBack     OutcomeKind = "rolled_back"
	OutcomeManualOverride OutcomeKind = "manual_override"
)

// IsValid reports whether k is a known outcome kind.
func (k OutcomeKind) IsValid() bool {
	switch k {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial, OutcomeRolledBack, OutcomeManualOverride:
		return true
	}
	return false
}

// Decision is one evaluation, written immutably at evaluation time. Outcome
// and ErrorDetail are the only fields mutated later, exactly once.
type Decision struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	AgentID         string            `json:"agentId"`
	RequestType     string            `json:"requestType"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Fingerprint     string            `json:"fingerprint"`
	RiskLevel       int               `json:"riskLevel"`
	ConfidenceScore float64           `json:"confidenceScore"`
	AutoAccepted    bool              `json:"autoAccepted"`
	Reasoning       []string          `json:"reasoning"`
	Outcome         OutcomeKind       `json:"outcome,omitempty"` // empty until recorded
	ErrorDetail     string            `json:"errorDetail,omitempty"`
	OutcomeAt       *time.Time        `json:"outcomeAt,omitempty"`
}

// Resolved reports whether an outcome has been recorded.
func (d *Decision) Resolved() bool {
	return d.Outcome != ""
}

// QueryFilter selects decisions for compliance queries.
// Zero values mean "no constraint".
type QueryFilter struct {
	Since        time.Time
	Until        time.Time
	AgentID      string
	RequestType  string
	AutoAccepted *bool
	Outcome      OutcomeKind
	MinRiskLevel int

	// Pagination: return at most Limit decisions older than Before/BeforeID,
	// newest first.
	Limit    int
	Before   time.Time
	BeforeID string
}

// WindowStats summarizes decisions inside a trailing time window.
type WindowStats struct {
	Total    int `json:"total"`
	Accepted int `json:"accepted"`
	Failures int `json:"failures"`
}

// FailureRatio returns failures/total, or 0 for an empty window.
func (w *WindowStats) FailureRatio() float64 {
	if w.Total == 0 {
		return 0
	}
	return float64(w.Failures) / float64(w.Total)
}

// Store persists the audit log.
//
// Append never updates an existing entry; SetOutcome composes the one
// permitted outcome write and fails with ErrAlreadyResolved on a second
// attempt. RecentStats must be cheap enough to run on every evaluation
// (indexed by timestamp; failures additionally by outcome time, since they
// are windowed on when the outcome was recorded).
type Store interface {
	Append(ctx context.Context, d *Decision) error
	Get(ctx context.Context, id string) (*Decision, error)
	SetOutcome(ctx context.Context, id string, outcome OutcomeKind, errorDetail string, at time.Time) (*Decision, error)
	Query(ctx context.Context, f QueryFilter) ([]*Decision, error)
	RecentStats(ctx context.Context, window time.Duration, now time.Time) (*WindowStats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

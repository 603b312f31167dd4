// Package engine orchestrates the full decision pipeline: risk
// classification, confidence estimation, SOP policy evaluation, and the
// safety gate, under the authority of the emergency controller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenlight-sh/greenlight/internal/audit"
	"github.com/greenlight-sh/greenlight/internal/emergency"
	"github.com/greenlight-sh/greenlight/internal/idgen"
	"github.com/greenlight-sh/greenlight/internal/logging"
	"github.com/greenlight-sh/greenlight/internal/metrics"
	"github.com/greenlight-sh/greenlight/internal/pattern"
	"github.com/greenlight-sh/greenlight/internal/policy"
	"github.com/greenlight-sh/greenlight/internal/realtime"
	"github.com/greenlight-sh/greenlight/internal/request"
	"github.com/greenlight-sh/greenlight/internal/retry"
	"github.com/greenlight-sh/greenlight/internal/risk"
	"github.com/greenlight-sh/greenlight/internal/safety"
	"github.com/greenlight-sh/greenlight/internal/syncutil"
	"github.com/greenlight-sh/greenlight/internal/traces"
)

// ErrInvalidOutcome rejects outcome kinds outside the closed set.
var ErrInvalidOutcome = errors.New("engine: invalid outcome kind")

// EventSink receives engine events for live streaming. *realtime.Hub
// satisfies it; a nil sink disables streaming.
type EventSink interface {
	BroadcastDecision(d map[string]interface{})
	BroadcastOutcome(o map[string]interface{})
	BroadcastEmergency(tripped bool, reason string)
}

var _ EventSink = (*realtime.Hub)(nil)

// Engine is the public entry point for evaluation and outcome recording.
type Engine struct {
	patterns  pattern.Store
	auditLog  audit.Store
	rules     *policy.Evaluator
	gate      *safety.Gate
	emergency *emergency.Controller
	events    EventSink

	outcomeLocks syncutil.ContextShardedMutex
}

// New wires the engine together. events may be nil.
func New(patterns pattern.Store, auditLog audit.Store, rules *policy.Evaluator, gate *safety.Gate, ctrl *emergency.Controller, events EventSink) *Engine {
	return &Engine{
		patterns:  patterns,
		auditLog:  auditLog,
		rules:     rules,
		gate:      gate,
		emergency: ctrl,
		events:    events,
	}
}

// Evaluate decides whether req may execute autonomously.
//
// The emergency stop is checked first and bypasses everything else. The
// remaining pipeline runs classifier, confidence estimator, policy engine,
// and safety gate in order; the request is auto-accepted only when policy
// approved, safety passed, and the stop is not tripped. Every decision,
// approved or denied, is persisted to the audit log before returning.
//
// Veto-layer errors fail closed. A pattern store read error degrades to
// cold-start confidence instead: denying too many requests is safer than
// granting on stale data, but a read hiccup alone should not freeze the
// whole engine.
func (e *Engine) Evaluate(ctx context.Context, req *request.OperationRequest) (*audit.Decision, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "engine.Evaluate",
		traces.AgentID(req.AgentID),
		traces.RequestType(string(req.Type)),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	d := &audit.Decision{
		ID:          idgen.WithPrefix("dec_"),
		Timestamp:   start,
		AgentID:     req.AgentID,
		RequestType: string(req.Type),
		Attributes:  req.Attributes,
		Fingerprint: req.Fingerprint(),
	}
	span.SetAttributes(traces.DecisionID(d.ID), traces.Fingerprint(d.Fingerprint))

	if e.emergency.IsTripped() {
		d.RiskLevel = int(risk.Classify(req.Type, req.Attributes))
		d.ConfidenceScore = pattern.ColdStartConfidence
		d.AutoAccepted = false
		d.Reasoning = []string{"emergency stop active"}
		e.emergency.RecordDecision()
		if err := e.persist(ctx, d, "denied_emergency", start); err != nil {
			return nil, err
		}
		return d, nil
	}

	level := risk.Classify(req.Type, req.Attributes)
	d.RiskLevel = int(level)
	span.SetAttributes(traces.RiskLevel(d.RiskLevel))

	d.ConfidenceScore = e.confidence(ctx, d.Fingerprint)

	polRes, err := e.rules.Evaluate(ctx, d.RequestType, req.Attributes, d.RiskLevel, d.ConfidenceScore)
	if err != nil {
		// Policy is a grant layer: without rules there is no grant. Fail
		// closed and record the denial like any other.
		logging.L(ctx).Error("policy evaluation failed, denying", "decision", d.ID, "error", err)
		d.AutoAccepted = false
		d.Reasoning = append(d.Reasoning, "policy evaluation unavailable")
		e.emergency.RecordDecision()
		if perr := e.persist(ctx, d, "denied", start); perr != nil {
			return nil, perr
		}
		return d, nil
	}
	d.Reasoning = append(d.Reasoning, polRes.Reasons...)

	safe, safetyReasons, err := e.gate.Check(ctx, d.RequestType, req.Attributes, req.AgentID)
	if err != nil {
		// Fail closed, but still record the denial.
		d.AutoAccepted = false
		d.Reasoning = append(d.Reasoning, safetyReasons...)
		e.emergency.RecordDecision()
		if perr := e.persist(ctx, d, "denied", start); perr != nil {
			return nil, perr
		}
		return d, nil
	}
	d.Reasoning = append(d.Reasoning, safetyReasons...)

	d.AutoAccepted = polRes.Approved && safe
	if polRes.Approved && !safe {
		metrics.SafetyVetoesTotal.Inc()
	}
	if d.AutoAccepted {
		d.Reasoning = append(d.Reasoning, "auto-accepted")
	}

	e.emergency.RecordDecision()

	verdict := "denied"
	if d.AutoAccepted {
		verdict = "accepted"
	}
	if err := e.persist(ctx, d, verdict, start); err != nil {
		return nil, err
	}
	return d, nil
}

// confidence looks up pattern history for a fingerprint, degrading to the
// cold-start score on store errors.
func (e *Engine) confidence(ctx context.Context, fingerprint string) float64 {
	stats, err := e.patterns.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, pattern.ErrNoHistory) {
			logging.L(ctx).Warn("pattern store read failed, using cold-start confidence",
				"fingerprint", fingerprint, "error", err)
		}
		return pattern.ColdStartConfidence
	}
	return pattern.Confidence(stats, time.Now())
}

// persist writes the decision to the audit log and emits telemetry. The
// audit append is the engine's one unconditional write; if it fails the
// evaluation fails with it.
func (e *Engine) persist(ctx context.Context, d *audit.Decision, verdict string, start time.Time) error {
	if err := e.auditLog.Append(ctx, d); err != nil {
		return fmt.Errorf("engine: audit append: %w", err)
	}

	metrics.DecisionsTotal.WithLabelValues(d.RequestType, verdict).Inc()
	metrics.ConfidenceScore.Observe(d.ConfidenceScore)
	metrics.EvaluateDuration.Observe(time.Since(start).Seconds())

	logging.L(ctx).Info("decision evaluated",
		"decision_id", d.ID,
		"agent_id", d.AgentID,
		"request_type", d.RequestType,
		"risk_level", d.RiskLevel,
		"confidence", d.ConfidenceScore,
		"auto_accepted", d.AutoAccepted,
	)

	if e.events != nil {
		e.events.BroadcastDecision(map[string]interface{}{
			"decision_id":   d.ID,
			"agent_id":      d.AgentID,
			"request_type":  d.RequestType,
			"risk_level":    d.RiskLevel,
			"confidence":    d.ConfidenceScore,
			"auto_accepted": d.AutoAccepted,
			"reasoning":     d.Reasoning,
		})
	}
	return nil
}

// RecordOutcome attaches an outcome to a decision, updates pattern history,
// and re-evaluates the emergency stop on failures. Outcomes are write-once;
// a second call returns audit.ErrAlreadyResolved.
func (e *Engine) RecordOutcome(ctx context.Context, decisionID string, outcome audit.OutcomeKind, errorDetail string) (*audit.Decision, error) {
	ctx, span := traces.StartSpan(ctx, "engine.RecordOutcome",
		traces.DecisionID(decisionID),
		traces.Outcome(string(outcome)),
	)
	defer span.End()

	if !outcome.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}

	// Serialize concurrent outcome writes per decision so the write-once
	// check and the pattern update cannot interleave. Acquisition honors
	// caller cancellation; a decision already holding the lock finishes.
	unlock, err := e.outcomeLocks.LockContext(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	defer func() { unlock() }()

	now := time.Now()

	var d *audit.Decision
	err = retry.Do(ctx, 3, 50*time.Millisecond, func() error {
		var err error
		d, err = e.auditLog.SetOutcome(ctx, decisionID, outcome, errorDetail, now)
		if errors.Is(err, audit.ErrDecisionNotFound) || errors.Is(err, audit.ErrAlreadyResolved) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	// Write-path store errors must surface, so the pattern update retries
	// too and a final failure is returned to the caller. The shard lock is
	// released during backoff sleeps so other decisions on the same shard
	// are not blocked; the write-once outcome above already guards against
	// a concurrent duplicate.
	success := outcome == audit.OutcomeSuccess
	unlockFn := func() { unlock() }
	relockFn := func() {
		// Relock cannot be abandoned mid-retry, so it ignores cancellation.
		unlock, _ = e.outcomeLocks.LockContext(context.Background(), decisionID)
	}
	var stats *pattern.Stats
	err = retry.DoWithUnlock(ctx, 3, 50*time.Millisecond, unlockFn, relockFn, func() error {
		s, err := e.patterns.RecordOutcome(ctx, d.Fingerprint, d.RequestType, success, now)
		if err != nil {
			logging.L(ctx).Warn("pattern update failed, retrying",
				"decision_id", d.ID, "error", err)
			return err
		}
		stats = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: pattern update: %w", err)
	}

	// The cached score is recomputable from counts, so a failed refresh is
	// not fatal: the sweeper will recompute it.
	if uerr := e.patterns.UpdateConfidence(ctx, d.Fingerprint, pattern.Confidence(stats, now)); uerr != nil {
		logging.L(ctx).Warn("confidence cache refresh failed",
			"fingerprint", d.Fingerprint, "error", uerr)
	}

	metrics.OutcomesTotal.WithLabelValues(string(outcome)).Inc()

	if outcome == audit.OutcomeFailure {
		wasTripped := e.emergency.IsTripped()
		e.emergency.RecordFailure()
		if !wasTripped && e.emergency.IsTripped() {
			state := e.emergency.State()
			metrics.EmergencyTripsTotal.Inc()
			logging.L(ctx).Error("emergency stop tripped", "reason", state.Reason)
			if e.events != nil {
				e.events.BroadcastEmergency(true, state.Reason)
			}
		}
	}

	logging.L(ctx).Info("outcome recorded",
		"decision_id", d.ID,
		"outcome", string(outcome),
		"agent_id", d.AgentID,
	)

	if e.events != nil {
		e.events.BroadcastOutcome(map[string]interface{}{
			"decision_id":  d.ID,
			"agent_id":     d.AgentID,
			"request_type": d.RequestType,
			"outcome":      string(outcome),
			"error_detail": errorDetail,
		})
	}
	return d, nil
}

// EmergencyState reports the kill switch snapshot.
func (e *Engine) EmergencyState() emergency.State {
	return e.emergency.State()
}

// TripEmergency forces the stop open.
func (e *Engine) TripEmergency(ctx context.Context, reason string) {
	e.emergency.Trip(reason)
	metrics.EmergencyTripsTotal.Inc()
	logging.L(ctx).Error("emergency stop tripped manually", "reason", reason)
	if e.events != nil {
		e.events.BroadcastEmergency(true, reason)
	}
}

// ResetEmergency clears the stop if token is authorized.
func (e *Engine) ResetEmergency(ctx context.Context, token string) bool {
	if !e.emergency.Reset(token) {
		logging.L(ctx).Warn("emergency reset refused")
		return false
	}
	logging.L(ctx).Info("emergency stop reset")
	if e.events != nil {
		e.events.BroadcastEmergency(false, "")
	}
	return true
}

package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/greenlight-sh/greenlight/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenlight",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenlight",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter adapts the Dispatcher to the engine's event sink. Decision and
// outcome events are scoped to the owning agent; emergency events go to every
// subscriber. All methods are fire-and-forget: errors are logged, never
// returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// BroadcastDecision notifies the decision's agent that an evaluation landed.
func (e *Emitter) BroadcastDecision(d map[string]interface{}) {
	agentID, _ := d["agent_id"].(string)
	e.emitToAgent(agentID, EventDecisionEvaluated, d)
}

// BroadcastOutcome notifies the decision's agent that an outcome was recorded.
func (e *Emitter) BroadcastOutcome(o map[string]interface{}) {
	agentID, _ := o["agent_id"].(string)
	e.emitToAgent(agentID, EventOutcomeRecorded, o)
}

// BroadcastEmergency notifies every subscriber of a stop trip or reset.
func (e *Emitter) BroadcastEmergency(tripped bool, reason string) {
	eventType := EventEmergencyReset
	data := map[string]interface{}{"tripped": tripped}
	if tripped {
		eventType = EventEmergencyTripped
		data["reason"] = reason
	}
	e.emitAll(eventType, data)
}

func (e *Emitter) emitToAgent(agentID string, eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil || agentID == "" {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	// Delivery deadlines are per attempt, owned by the dispatcher. A
	// timeout here would be cancelled before the async sends finish.
	if err := e.d.DispatchToAgent(context.Background(), agentID, newEvent(eventType, data)); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "agent", agentID, "error", err)
	}
}

func (e *Emitter) emitAll(eventType EventType, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	if err := e.d.Dispatch(context.Background(), newEvent(eventType, data)); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

func newEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher creates a dispatcher that skips SSRF checks for localhost test servers.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.urlValidator = noopValidator
	return d
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		AgentID:   "agent-1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventDecisionEvaluated},
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	sub.Active = false
	_ = store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	_ = store.Delete(ctx, "wh_test1")
	if _, err := store.Get(ctx, "wh_test1"); err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByAgent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, &Subscription{ID: "wh1", AgentID: "agent-a", Events: []EventType{EventDecisionEvaluated}})
	_ = store.Create(ctx, &Subscription{ID: "wh2", AgentID: "agent-b", Events: []EventType{EventDecisionEvaluated}})
	_ = store.Create(ctx, &Subscription{ID: "wh3", AgentID: "agent-a", Events: []EventType{EventOutcomeRecorded}})

	subs, _ := store.GetByAgent(ctx, "agent-a")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for agent-a, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, &Subscription{ID: "wh1", Events: []EventType{EventEmergencyTripped, EventEmergencyReset}})
	_ = store.Create(ctx, &Subscription{ID: "wh2", Events: []EventType{EventOutcomeRecorded}})
	_ = store.Create(ctx, &Subscription{ID: "wh3", Events: []EventType{EventEmergencyTripped}})

	subs, _ := store.GetByEvent(ctx, EventEmergencyTripped)
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for emergency.tripped, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"type":"decision.evaluated","data":{}}`)
	secret := "test_secret_key"

	sig := d.sign(payload, secret)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

// ---------------------------------------------------------------------------
// Delivery tests
// ---------------------------------------------------------------------------

func TestDispatch_DeliversSignedEvent(t *testing.T) {
	var delivered atomic.Int32
	var gotEvent, gotSig string
	var gotBody []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Greenlight-Event")
		gotSig = r.Header.Get("X-Greenlight-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		delivered.Add(1)
	}))
	defer ts.Close()

	store := NewMemoryStore()
	d := newTestDispatcher(store)
	_ = store.Create(context.Background(), &Subscription{
		ID:      "wh_sub",
		AgentID: "agent-1",
		URL:     ts.URL,
		Secret:  "s3cret",
		Events:  []EventType{EventDecisionEvaluated},
		Active:  true,
	})

	event := &Event{
		ID:        "evt_1",
		Type:      EventDecisionEvaluated,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"decision_id": "dec_1", "agent_id": "agent-1"},
	}
	if err := d.DispatchToAgent(context.Background(), "agent-1", event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, func() bool { return delivered.Load() == 1 })

	if gotEvent != "decision.evaluated" {
		t.Errorf("Expected event header, got %q", gotEvent)
	}
	if gotSig != d.sign(gotBody, "s3cret") {
		t.Error("Signature does not verify against delivered payload")
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("Payload not valid JSON: %v", err)
	}
	if decoded.Data["decision_id"] != "dec_1" {
		t.Errorf("Payload data missing decision_id: %v", decoded.Data)
	}
}

func TestDispatch_SurvivesCallerCancellation(t *testing.T) {
	var delivered atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Slow endpoint: the caller's context is long gone by now.
		time.Sleep(100 * time.Millisecond)
		delivered.Add(1)
	}))
	defer ts.Close()

	store := NewMemoryStore()
	d := newTestDispatcher(store)
	sub := &Subscription{
		ID: "wh_slow", AgentID: "agent-1", URL: ts.URL,
		Events: []EventType{EventDecisionEvaluated}, Active: true,
	}
	_ = store.Create(context.Background(), sub)

	ctx, cancel := context.WithCancel(context.Background())
	event := &Event{ID: "evt_1", Type: EventDecisionEvaluated, Timestamp: time.Now()}
	if err := d.DispatchToAgent(ctx, "agent-1", event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	cancel()

	waitFor(t, func() bool { return delivered.Load() == 1 })
}

func TestSend_SuccessResetsFailureState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	store := NewMemoryStore()
	d := newTestDispatcher(store)
	sub := &Subscription{
		ID: "wh_ok", AgentID: "agent-1", URL: ts.URL,
		Events: []EventType{EventDecisionEvaluated}, Active: true,
		LastError: "status 500", ConsecutiveFailures: 3,
	}
	_ = store.Create(context.Background(), sub)

	d.send(context.Background(), sub, &Event{ID: "evt_1", Type: EventDecisionEvaluated, Timestamp: time.Now()})

	stored, _ := store.Get(context.Background(), "wh_ok")
	if stored.LastSuccess == nil {
		t.Error("Expected LastSuccess after delivery")
	}
	if stored.LastError != "" || stored.ConsecutiveFailures != 0 {
		t.Errorf("Expected failure state cleared, got %q/%d", stored.LastError, stored.ConsecutiveFailures)
	}
}

func TestDispatch_SkipsInactiveAndUnsubscribed(t *testing.T) {
	var delivered atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	}))
	defer ts.Close()

	store := NewMemoryStore()
	d := newTestDispatcher(store)
	_ = store.Create(context.Background(), &Subscription{
		ID: "wh_inactive", AgentID: "agent-1", URL: ts.URL,
		Events: []EventType{EventDecisionEvaluated}, Active: false,
	})
	_ = store.Create(context.Background(), &Subscription{
		ID: "wh_other_event", AgentID: "agent-1", URL: ts.URL,
		Events: []EventType{EventEmergencyTripped}, Active: true,
	})

	event := &Event{ID: "evt_1", Type: EventDecisionEvaluated, Timestamp: time.Now()}
	if err := d.DispatchToAgent(context.Background(), "agent-1", event); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Errorf("Expected no deliveries, got %d", delivered.Load())
	}
}

func TestDispatch_FailureRecordsErrorAndTripsBreaker(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	store := NewMemoryStore()
	d := newTestDispatcher(store)
	sub := &Subscription{
		ID: "wh_fail", AgentID: "agent-1", URL: ts.URL,
		Events: []EventType{EventOutcomeRecorded}, Active: true,
	}
	_ = store.Create(context.Background(), sub)

	event := &Event{ID: "evt_1", Type: EventOutcomeRecorded, Timestamp: time.Now()}

	// Five failures trip the circuit.
	for i := 0; i < 5; i++ {
		d.send(context.Background(), sub, event)
	}
	if got := attempts.Load(); got != 5 {
		t.Fatalf("Expected 5 attempts, got %d", got)
	}

	stored, _ := store.Get(context.Background(), "wh_fail")
	if stored.LastError == "" {
		t.Error("Expected LastError after failed delivery")
	}
	if stored.ConsecutiveFailures != 5 {
		t.Errorf("Expected 5 consecutive failures, got %d", stored.ConsecutiveFailures)
	}

	// Circuit open: the next send is dropped without an HTTP attempt.
	d.send(context.Background(), sub, event)
	if got := attempts.Load(); got != 5 {
		t.Errorf("Expected open circuit to block delivery, got %d attempts", got)
	}
}

func TestDispatch_TooManyFailuresDisablesSubscription(t *testing.T) {
	store := NewMemoryStore()
	d := newTestDispatcher(store)
	sub := &Subscription{
		ID: "wh_dead", AgentID: "agent-1", URL: "https://example.com/hook",
		Events: []EventType{EventOutcomeRecorded}, Active: true,
		ConsecutiveFailures: maxConsecutiveFailures - 1,
	}
	_ = store.Create(context.Background(), sub)

	d.updateError(context.Background(), sub, "status 500")

	stored, _ := store.Get(context.Background(), "wh_dead")
	if stored.Active {
		t.Error("Expected subscription disabled after too many consecutive failures")
	}
}

func TestDispatch_BlockedURLNeverSent(t *testing.T) {
	var delivered atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	}))
	defer ts.Close()

	store := NewMemoryStore()
	d := NewDispatcher(store) // real validator: loopback test server is blocked
	sub := &Subscription{
		ID: "wh_ssrf", AgentID: "agent-1", URL: ts.URL,
		Events: []EventType{EventDecisionEvaluated}, Active: true,
	}
	_ = store.Create(context.Background(), sub)

	d.send(context.Background(), sub, &Event{ID: "evt_1", Type: EventDecisionEvaluated, Timestamp: time.Now()})

	if delivered.Load() != 0 {
		t.Errorf("Expected blocked delivery, got %d", delivered.Load())
	}
	stored, _ := store.Get(context.Background(), "wh_ssrf")
	if stored.LastError == "" {
		t.Error("Expected LastError for blocked URL")
	}
}

// ---------------------------------------------------------------------------
// Emitter tests
// ---------------------------------------------------------------------------

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	e.BroadcastDecision(map[string]interface{}{"agent_id": "a"})
	e.BroadcastOutcome(map[string]interface{}{"agent_id": "a"})
	e.BroadcastEmergency(true, "drill")
}

func TestEventTypeValidation(t *testing.T) {
	for _, et := range AllEventTypes {
		if !IsValidEventType(et) {
			t.Errorf("%s should be valid", et)
		}
	}
	if IsValidEventType("decision.deleted") {
		t.Error("unknown event type should be invalid")
	}
}

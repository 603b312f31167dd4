package emergency

import (
	"sync"
	"testing"
	"time"
)

const testSecret = "emergency-reset-secret"

// busy seeds enough decisions that the failure ratio stays quiet and only
// the absolute count condition can trip.
func busy(c *Controller, n int) {
	for i := 0; i < n; i++ {
		c.RecordDecision()
	}
}

func TestTripOnFailureCount(t *testing.T) {
	c := NewController(testSecret)
	busy(c, 100)

	for i := 0; i < 4; i++ {
		c.RecordFailure()
		if c.IsTripped() {
			t.Fatalf("tripped after %d failures, threshold is 5", i+1)
		}
	}
	c.RecordFailure()
	if !c.IsTripped() {
		t.Fatal("5 failures in the window must trip")
	}
}

func TestTripOnFailureRatio(t *testing.T) {
	c := NewController(testSecret)
	busy(c, 10)

	// 3 failures out of 10 decisions is exactly 0.3, not over it.
	for i := 0; i < 3; i++ {
		c.RecordFailure()
	}
	if c.IsTripped() {
		t.Fatal("ratio 0.3 must not trip")
	}

	// The 4th makes it 0.4, over the limit and under the count threshold.
	c.RecordFailure()
	if !c.IsTripped() {
		t.Fatal("ratio 0.4 must trip")
	}
}

func TestSingleFailureInQuietWindowTrips(t *testing.T) {
	// One decision, one failure: ratio 1.0. A failure that represents the
	// entirety of recent activity is exactly the case to fail safe on.
	c := NewController(testSecret)
	c.RecordDecision()
	c.RecordFailure()
	if !c.IsTripped() {
		t.Fatal("lone failure in an otherwise idle window must trip")
	}
}

func TestDecisionsAloneNeverTrip(t *testing.T) {
	c := NewController(testSecret)
	busy(c, 1000)
	if c.IsTripped() {
		t.Fatal("decisions without failures must never trip")
	}
}

func TestManualTripAndState(t *testing.T) {
	c := NewController(testSecret)

	c.Trip("operator initiated")
	if !c.IsTripped() {
		t.Fatal("manual trip must stick")
	}
	s := c.State()
	if !s.Tripped || s.Reason != "operator initiated" || s.TrippedAt == nil {
		t.Errorf("unexpected state %+v", s)
	}

	// A later automatic trip must not overwrite the original reason.
	busy(c, 100)
	for i := 0; i < 5; i++ {
		c.RecordFailure()
	}
	if got := c.State().Reason; got != "operator initiated" {
		t.Errorf("reason overwritten to %q", got)
	}
}

func TestReset(t *testing.T) {
	c := NewController(testSecret)
	c.Trip("test")

	if c.Reset("wrong-token") {
		t.Fatal("bad token must not reset")
	}
	if !c.IsTripped() {
		t.Fatal("switch must stay tripped after a bad token")
	}

	if !c.Reset(testSecret) {
		t.Fatal("valid token must reset")
	}
	if c.IsTripped() {
		t.Fatal("reset must clear the switch")
	}

	// Reset clears history, so pre-incident failures don't re-trip
	// the moment traffic resumes.
	busy(c, 10)
	c.RecordFailure()
	if c.IsTripped() {
		t.Fatal("single failure after reset must not trip")
	}
}

func TestResetRefusedWithoutSecret(t *testing.T) {
	c := NewController("")
	c.Trip("test")
	if c.Reset("") || c.Reset("anything") {
		t.Fatal("empty admin secret must refuse every reset")
	}
}

func TestWindowPruning(t *testing.T) {
	c := NewController(testSecret, WithThresholds(50*time.Millisecond, 5, 0.3))

	busy(c, 20)
	for i := 0; i < 4; i++ {
		c.RecordFailure()
	}
	time.Sleep(80 * time.Millisecond)

	// Everything has aged out; fresh traffic starts a clean window.
	busy(c, 20)
	c.RecordFailure()
	if c.IsTripped() {
		t.Fatal("failures outside the window must not count")
	}
	s := c.State()
	if s.RecentFailures != 1 || s.RecentDecisions != 20 {
		t.Errorf("window not pruned: %+v", s)
	}
}

func TestConcurrentRecording(t *testing.T) {
	// Thresholds high enough that nothing trips; we only care that no
	// event is lost under contention.
	c := NewController(testSecret, WithThresholds(time.Hour, 10000, 1.1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.RecordDecision()
				c.RecordFailure()
				c.IsTripped()
			}
		}()
	}
	wg.Wait()

	s := c.State()
	if s.RecentFailures != 400 || s.RecentDecisions != 400 {
		t.Errorf("lost events: %+v", s)
	}
}

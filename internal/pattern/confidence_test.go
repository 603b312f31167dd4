package pattern

import (
	"testing"
	"time"
)

func stats(succ, fail uint64, lastSuccess *time.Time) *Stats {
	return &Stats{
		Fingerprint:   "fp",
		RequestType:   "file_read",
		SuccessCount:  succ,
		FailureCount:  fail,
		LastSuccessAt: lastSuccess,
	}
}

func TestConfidence_ColdStart(t *testing.T) {
	now := time.Now()
	if got := Confidence(nil, now); got != ColdStartConfidence {
		t.Errorf("nil stats: got %f", got)
	}
	if got := Confidence(stats(0, 0, nil), now); got != ColdStartConfidence {
		t.Errorf("zero observations: got %f", got)
	}
}

func TestConfidence_SmallSampleCapped(t *testing.T) {
	now := time.Now()

	// 2 successes out of 3 observations: 2/5 = 0.4, under the cap.
	if got := Confidence(stats(2, 1, &now), now); got != 0.4 {
		t.Errorf("small sample: got %f, want 0.4", got)
	}

	// 4 successes out of 4: 4/5 = 0.8 capped at 0.5.
	if got := Confidence(stats(4, 0, &now), now); got != 0.5 {
		t.Errorf("small sample cap: got %f, want 0.5", got)
	}
}

func TestConfidence_Blend(t *testing.T) {
	now := time.Now()

	// 8/8 successes: rate 1.0, volume 8/100 = 0.08 → 0.7 + 0.024 = 0.724.
	if got := Confidence(stats(8, 0, &now), now); got != 0.724 {
		t.Errorf("blend: got %f, want 0.724", got)
	}

	// 90/100: rate 0.9, volume 1.0 → 0.63 + 0.3 = 0.93.
	if got := Confidence(stats(90, 10, &now), now); got != 0.93 {
		t.Errorf("blend at volume cap: got %f, want 0.93", got)
	}

	// Volume factor saturates at 100 observations.
	if got := Confidence(stats(900, 100, &now), now); got != 0.93 {
		t.Errorf("volume saturation: got %f, want 0.93", got)
	}
}

func TestConfidence_StaleDecay(t *testing.T) {
	now := time.Now()
	old := now.Add(-31 * 24 * time.Hour)
	recent := now.Add(-29 * 24 * time.Hour)

	fresh := Confidence(stats(90, 10, &recent), now)
	stale := Confidence(stats(90, 10, &old), now)

	if fresh != 0.93 {
		t.Errorf("recent success must not decay: got %f", fresh)
	}
	if stale != 0.744 {
		t.Errorf("stale history must decay by 0.8: got %f, want 0.744", stale)
	}
}

func TestConfidence_Monotonicity(t *testing.T) {
	now := time.Now()

	// Equal totals: higher success rate → equal-or-higher confidence.
	prev := -1.0
	for succ := uint64(0); succ <= 50; succ += 5 {
		c := Confidence(stats(succ, 50-succ, &now), now)
		if c < prev {
			t.Fatalf("confidence decreased as success rate rose: %f -> %f at %d successes", prev, c, succ)
		}
		prev = c
	}

	// Equal success rate: larger total (up to the cap) → equal-or-higher.
	prev = -1.0
	for total := uint64(10); total <= 100; total += 10 {
		c := Confidence(stats(total/2, total/2, &now), now)
		if c < prev {
			t.Fatalf("confidence decreased as volume rose: %f -> %f at total %d", prev, c, total)
		}
		prev = c
	}
}

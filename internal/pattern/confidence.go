package pattern

import (
	"math"
	"time"
)

// Confidence estimation constants.
const (
	// ColdStartConfidence is assigned to fingerprints with no history.
	ColdStartConfidence = 0.3
	// minSample is the observation count below which confidence is capped.
	minSample = 5
	// smallSampleCap bounds confidence while the sample is too small.
	smallSampleCap = 0.5
	// volumeCap is the observation count at which volume stops helping.
	volumeCap = 100
	// successWeight and volumeWeight blend success rate against volume.
	successWeight = 0.7
	volumeWeight  = 0.3
	// staleAfter is how long without a success before confidence decays.
	staleAfter = 30 * 24 * time.Hour
	// staleFactor multiplies confidence once history has gone stale.
	staleFactor = 0.8
)

// Confidence derives a score in [0,1] from a stats row. It is deterministic
// given the row and clock, so tests can feed synthetic stats.
//
//   - No history: ColdStartConfidence.
//   - Fewer than minSample observations: min(smallSampleCap, successes/minSample).
//   - Otherwise: successRate*0.7 + min(1, total/100)*0.3, multiplied by 0.8
//     when the last success is more than 30 days old.
func Confidence(s *Stats, now time.Time) float64 {
	if s == nil || s.Total() == 0 {
		return ColdStartConfidence
	}

	total := s.Total()
	if total < minSample {
		c := float64(s.SuccessCount) / float64(minSample)
		return math.Min(smallSampleCap, c)
	}

	successRate := float64(s.SuccessCount) / float64(total)
	volumeFactor := math.Min(1.0, float64(total)/float64(volumeCap))
	confidence := successRate*successWeight + volumeFactor*volumeWeight

	if s.LastSuccessAt != nil && now.Sub(*s.LastSuccessAt) > staleAfter {
		confidence *= staleFactor
	}

	return round3(confidence)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Package pattern tracks historical outcome statistics per operation
// fingerprint. One row per fingerprint, append-only growth, atomic counter
// updates. The cached confidence score is always recomputable from the
// counters plus recency; it is a cache, not a source of truth.
package pattern

import (
	"context"
	"errors"
	"time"
)

// ErrNoHistory is returned when a fingerprint has never been observed.
var ErrNoHistory = errors.New("pattern: no history for fingerprint")

// Stats is the accumulated outcome history for one fingerprint.
type Stats struct {
	Fingerprint     string     `json:"fingerprint"`
	RequestType     string     `json:"requestType"`
	SuccessCount    uint64     `json:"successCount"`
	FailureCount    uint64     `json:"failureCount"`
	LastSuccessAt   *time.Time `json:"lastSuccessAt,omitempty"`
	ConfidenceScore float64    `json:"confidenceScore"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Total returns the number of recorded observations.
func (s *Stats) Total() uint64 {
	return s.SuccessCount + s.FailureCount
}

// Store persists fingerprint statistics.
//
// RecordOutcome must apply its increment atomically per fingerprint:
// concurrent outcome updates to the same fingerprint must not lose counts.
type Store interface {
	// Get returns the stats row for a fingerprint, or ErrNoHistory.
	Get(ctx context.Context, fingerprint string) (*Stats, error)
	// RecordOutcome increments the success or failure counter, creating the
	// row on first observation, and returns the updated stats.
	RecordOutcome(ctx context.Context, fingerprint, requestType string, success bool, at time.Time) (*Stats, error)
	// All returns every stats row. Used by the background sweep; must not
	// block concurrent Get/RecordOutcome calls for its full duration.
	All(ctx context.Context) ([]*Stats, error)
	// UpdateConfidence refreshes the cached confidence score for a row.
	UpdateConfidence(ctx context.Context, fingerprint string, score float64) error
}

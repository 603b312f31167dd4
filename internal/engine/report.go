package engine

import (
	"context"
	"math"
	"time"

	"github.com/greenlight-sh/greenlight/internal/audit"
)

// TypeBreakdown aggregates decisions for one request type.
type TypeBreakdown struct {
	Total        int `json:"total"`
	AutoAccepted int `json:"auto_accepted"`
	Successful   int `json:"successful"`
	Failed       int `json:"failed"`
}

// Report summarizes engine activity over a trailing window.
type Report struct {
	WindowHours         int                       `json:"window_hours"`
	GeneratedAt         time.Time                 `json:"generated_at"`
	TotalDecisions      int                       `json:"total_decisions"`
	AutoAccepted        int                       `json:"auto_accepted"`
	Successful          int                       `json:"successful"`
	Failed              int                       `json:"failed"`
	AvgConfidence       float64                   `json:"avg_confidence"`
	ByType              map[string]*TypeBreakdown `json:"breakdown_by_type"`
	EmergencyStopActive bool                      `json:"emergency_stop_active"`
}

// Report aggregates the audit log over the trailing windowHours.
func (e *Engine) Report(ctx context.Context, windowHours int) (*Report, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	now := time.Now()

	decisions, err := e.auditLog.Query(ctx, audit.QueryFilter{
		Since: now.Add(-time.Duration(windowHours) * time.Hour),
	})
	if err != nil {
		return nil, err
	}

	r := &Report{
		WindowHours:         windowHours,
		GeneratedAt:         now,
		ByType:              make(map[string]*TypeBreakdown),
		EmergencyStopActive: e.emergency.IsTripped(),
	}

	var confidenceSum float64
	for _, d := range decisions {
		r.TotalDecisions++
		confidenceSum += d.ConfidenceScore

		bt := r.ByType[d.RequestType]
		if bt == nil {
			bt = &TypeBreakdown{}
			r.ByType[d.RequestType] = bt
		}
		bt.Total++

		if d.AutoAccepted {
			r.AutoAccepted++
			bt.AutoAccepted++
		}
		switch d.Outcome {
		case audit.OutcomeSuccess:
			r.Successful++
			bt.Successful++
		case audit.OutcomeFailure:
			r.Failed++
			bt.Failed++
		}
	}

	if r.TotalDecisions > 0 {
		r.AvgConfidence = math.Round(confidenceSum/float64(r.TotalDecisions)*1000) / 1000
	}
	return r, nil
}

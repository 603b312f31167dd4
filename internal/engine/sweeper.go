package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/greenlight-sh/greenlight/internal/metrics"
	"github.com/greenlight-sh/greenlight/internal/pattern"
)

// Sweeper periodically purges audit entries past retention and recomputes
// cached confidence scores so recency decay takes effect without traffic.
type Sweeper struct {
	patterns  pattern.Store
	auditLog  AuditPurger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// AuditPurger is the slice of the audit store the sweeper needs.
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewSweeper creates a retention sweeper.
// interval is typically 5 minutes in production, much shorter in tests.
func NewSweeper(patterns pattern.Store, auditLog AuditPurger, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		patterns:  patterns,
		auditLog:  auditLog,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately on start
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop. The signal is latched: a Stop during a
// running sweep still ends the loop once that sweep returns. Safe to call
// more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Sweep runs one purge-and-recompute pass. Exported so operational
// tooling can trigger it on demand.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	purged, err := s.auditLog.PurgeOlderThan(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Warn("audit purge failed", "error", err)
	} else if purged > 0 {
		metrics.AuditPurgedTotal.Add(float64(purged))
	}

	// Refresh cached scores so the 30-day decay shows up even on
	// fingerprints with no recent traffic. All returns a snapshot, so
	// foreground evaluations are not blocked while we walk it.
	rows, err := s.patterns.All(ctx)
	if err != nil {
		s.logger.Warn("pattern scan failed", "error", err)
		return
	}

	var refreshed int
	for _, row := range rows {
		score := pattern.Confidence(row, now)
		if score == row.ConfidenceScore {
			continue
		}
		if err := s.patterns.UpdateConfidence(ctx, row.Fingerprint, score); err != nil {
			s.logger.Warn("confidence refresh failed", "fingerprint", row.Fingerprint, "error", err)
			continue
		}
		refreshed++
	}

	s.logger.Info("retention sweep completed",
		"purged", purged,
		"patterns", len(rows),
		"refreshed", refreshed,
	)
}

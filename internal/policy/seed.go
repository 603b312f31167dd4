package policy

import (
	"context"
	"time"

	"github.com/greenlight-sh/greenlight/internal/idgen"
	"github.com/greenlight-sh/greenlight/internal/request"
)

// seedSpec describes one default rule.
type seedSpec struct {
	typ          request.Type
	name         string
	confidence   float64
	maxRisk      int
	verification bool
}

// defaultRules is the factory rule set applied on first run. Read-class
// operations auto-approve on modest history; write-class operations need a
// strong track record; lifecycle and destructive operations are never
// auto-approved by policy alone.
var defaultRules = []seedSpec{
	{request.TypeFileRead, "auto-approve file reads", 0.5, 1, false},
	{request.TypeDirList, "auto-approve directory listings", 0.5, 1, false},
	{request.TypeHealthCheck, "auto-approve health checks", 0.5, 1, false},
	{request.TypeLogAnalysis, "auto-approve log analysis", 0.6, 1, false},
	{request.TypeReportGenerate, "auto-approve report generation", 0.7, 2, false},
	{request.TypeContextSave, "auto-approve context saves", 0.7, 2, false},
	{request.TypeFileWrite, "auto-approve low-risk writes", 0.8, 2, false},
	{request.TypeFileMove, "auto-approve file moves", 0.8, 3, false},
	{request.TypeConfigUpdate, "auto-approve config updates", 0.8, 3, false},
	{request.TypeServiceStart, "verify service starts", 0.9, 4, true},
	{request.TypeServiceStop, "verify service stops", 0.9, 4, true},
	{request.TypeServiceRestart, "verify service restarts", 0.9, 4, true},
	{request.TypeDependencyInstall, "verify dependency installs", 0.9, 4, true},
	{request.TypeFileDelete, "verify file deletions", 0.95, 5, true},
}

// SeedDefaults inserts the factory rules if the store is empty. Safe to call
// on every startup.
func SeedDefaults(ctx context.Context, store Store) (int, error) {
	n, err := store.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	now := time.Now()
	for i, spec := range defaultRules {
		rule := &SOPRule{
			ID:                   idgen.WithPrefix("rule_"),
			RequestType:          string(spec.typ),
			Name:                 spec.name,
			RequiredConfidence:   spec.confidence,
			MaxRiskLevel:         spec.maxRisk,
			RequiresVerification: spec.verification,
			Enabled:              true,
			Position:             i,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := store.Create(ctx, rule); err != nil {
			return 0, err
		}
	}
	return len(defaultRules), nil
}

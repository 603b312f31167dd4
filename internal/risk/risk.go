// Package risk maps operation requests to a static danger level.
//
// Classification is a pure, total function over (type, attributes): it never
// fails and carries no state. Historical success has no influence here; that
// is the confidence estimator's job. The two are combined by SOP rules, which
// gate each request type on both a risk ceiling and a confidence floor.
package risk

import "github.com/greenlight-sh/greenlight/internal/request"

// Level is an ordinal risk classification, 1 (minimal) through 5 (critical).
type Level int

const (
	LevelMinimal  Level = 1
	LevelLow      Level = 2
	LevelMedium   Level = 3
	LevelHigh     Level = 4
	LevelCritical Level = 5
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// baseLevels is the static table of per-type risk before overrides.
// Reads and health checks are minimal; mutations are medium; service
// lifecycle and dependency installs are high; destructive operations are
// critical.
var baseLevels = map[request.Type]Level{
	request.TypeFileRead:          LevelMinimal,
	request.TypeDirList:           LevelMinimal,
	request.TypeHealthCheck:       LevelMinimal,
	request.TypeLogAnalysis:       LevelMinimal,
	request.TypeReportGenerate:    LevelLow,
	request.TypeContextSave:       LevelLow,
	request.TypeFileWrite:         LevelMedium,
	request.TypeFileMove:          LevelMedium,
	request.TypeConfigUpdate:      LevelMedium,
	request.TypeServiceStart:      LevelHigh,
	request.TypeServiceStop:       LevelHigh,
	request.TypeServiceRestart:    LevelHigh,
	request.TypeDependencyInstall: LevelHigh,
	request.TypeFileDelete:        LevelCritical,
}

// clamp keeps a shifted level inside the ordinal range.
func clamp(l Level) Level {
	if l < LevelMinimal {
		return LevelMinimal
	}
	if l > LevelCritical {
		return LevelCritical
	}
	return l
}

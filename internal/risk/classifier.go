package risk

import (
	"strings"

	"github.com/greenlight-sh/greenlight/internal/request"
)

// override shifts the base level by exactly one step when an attribute value
// contains the given substring. Longer substrings are considered more
// specific.
type override struct {
	attr     string
	contains string
	shift    int // +1 raises risk one step, -1 lowers it
}

// overrides, keyed by request type. Only one override applies per request:
// the most specific (longest) matching substring wins; if two matches tie on
// specificity, the one producing the higher level wins.
var overrides = map[request.Type][]override{
	request.TypeFileWrite: {
		{attr: "path", contains: "backup", shift: -1},
		{attr: "path", contains: "config", shift: +1},
		{attr: "path", contains: "/tmp", shift: -1},
	},
	request.TypeFileDelete: {
		{attr: "path", contains: "temp", shift: -1},
		{attr: "path", contains: "/tmp", shift: -1},
		{attr: "path", contains: "cache", shift: -1},
	},
	request.TypeFileMove: {
		{attr: "dest", contains: "archive", shift: -1},
		{attr: "dest", contains: "config", shift: +1},
	},
	request.TypeConfigUpdate: {
		{attr: "key", contains: "secret", shift: +1},
		{attr: "key", contains: "credential", shift: +1},
	},
	request.TypeServiceRestart: {
		{attr: "service", contains: "dev", shift: -1},
	},
	request.TypeDependencyInstall: {
		{attr: "manager", contains: "system", shift: +1},
	},
}

// Classify returns the risk level for a request. Unknown types classify as
// critical so that a gap in the base table fails toward caution rather than
// silently minimal.
func Classify(typ request.Type, attrs map[string]string) Level {
	base, ok := baseLevels[typ]
	if !ok {
		return LevelCritical
	}

	best, found := matchOverride(typ, attrs, base)
	if !found {
		return base
	}
	return best
}

// matchOverride finds the applicable override result for a request.
// Most specific match wins; among equally specific matches, the higher
// resulting level wins.
func matchOverride(typ request.Type, attrs map[string]string, base Level) (Level, bool) {
	candidates := overrides[typ]
	if len(candidates) == 0 || len(attrs) == 0 {
		return 0, false
	}

	bestSpec := -1
	var bestLevel Level
	found := false

	for _, ov := range candidates {
		v := strings.ToLower(attrs[ov.attr])
		if v == "" || !strings.Contains(v, ov.contains) {
			continue
		}
		spec := len(ov.contains)
		result := clamp(base + Level(ov.shift))

		switch {
		case spec > bestSpec:
			bestSpec, bestLevel, found = spec, result, true
		case spec == bestSpec && result > bestLevel:
			bestLevel = result
		}
	}

	return bestLevel, found
}

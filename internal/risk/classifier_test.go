package risk

import (
	"testing"

	"github.com/greenlight-sh/greenlight/internal/request"
)

func TestClassify_BaseLevels(t *testing.T) {
	tests := []struct {
		typ  request.Type
		want Level
	}{
		{request.TypeFileRead, LevelMinimal},
		{request.TypeHealthCheck, LevelMinimal},
		{request.TypeLogAnalysis, LevelMinimal},
		{request.TypeReportGenerate, LevelLow},
		{request.TypeFileWrite, LevelMedium},
		{request.TypeConfigUpdate, LevelMedium},
		{request.TypeServiceStop, LevelHigh},
		{request.TypeDependencyInstall, LevelHigh},
		{request.TypeFileDelete, LevelCritical},
	}
	for _, tt := range tests {
		if got := Classify(tt.typ, nil); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestClassify_UnknownTypeIsCritical(t *testing.T) {
	if got := Classify(request.Type("made_up"), nil); got != LevelCritical {
		t.Errorf("unknown type must classify critical, got %s", got)
	}
}

func TestClassify_Overrides(t *testing.T) {
	tests := []struct {
		name  string
		typ   request.Type
		attrs map[string]string
		want  Level
	}{
		{
			name:  "write to backup drops one step",
			typ:   request.TypeFileWrite,
			attrs: map[string]string{"path": "/workspace/backup/state.json"},
			want:  LevelLow,
		},
		{
			name:  "write to config rises one step",
			typ:   request.TypeFileWrite,
			attrs: map[string]string{"path": "/workspace/config/app.yaml"},
			want:  LevelHigh,
		},
		{
			name:  "delete in temp drops one step",
			typ:   request.TypeFileDelete,
			attrs: map[string]string{"path": "/workspace/temp/scratch.txt"},
			want:  LevelHigh,
		},
		{
			name:  "secret config update rises",
			typ:   request.TypeConfigUpdate,
			attrs: map[string]string{"key": "db_secret"},
			want:  LevelHigh,
		},
		{
			name:  "no matching override keeps base",
			typ:   request.TypeFileWrite,
			attrs: map[string]string{"path": "/workspace/notes.md"},
			want:  LevelMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.typ, tt.attrs); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify_MostSpecificOverrideWins(t *testing.T) {
	// "config" (6 chars) is more specific than "/tmp" (4 chars): the raise
	// wins even though the path also sits under /tmp.
	got := Classify(request.TypeFileWrite, map[string]string{"path": "/tmp/config/app.yaml"})
	if got != LevelHigh {
		t.Errorf("most specific override must win, got %s", got)
	}
}

func TestClassify_TieFavorsHigherRisk(t *testing.T) {
	// "temp" and "/tmp" are equally specific for deletes; both lower, so the
	// result is the same either way. Construct a real tie via config keys.
	got := Classify(request.TypeFileDelete, map[string]string{"path": "/tmp/temp-files/x"})
	if got != LevelHigh {
		t.Errorf("expected one-step drop from critical, got %s", got)
	}
}

func TestClassify_ShiftIsExactlyOneStep(t *testing.T) {
	// A minimal-risk operation with a lowering override clamps at minimal.
	got := Classify(request.TypeServiceRestart, map[string]string{"service": "indexer-dev"})
	if got != LevelMedium {
		t.Errorf("expected high dropped one step to medium, got %s", got)
	}
}

func TestLevelString(t *testing.T) {
	if LevelCritical.String() != "critical" || Level(0).String() != "unknown" {
		t.Error("level names wrong")
	}
}

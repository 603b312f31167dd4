package request

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     OperationRequest
		wantErr error
	}{
		{
			name: "valid read",
			req:  OperationRequest{Type: TypeFileRead, AgentID: "agent-1", Attributes: map[string]string{"path": "/var/log/app.log"}},
		},
		{
			name:    "missing type",
			req:     OperationRequest{AgentID: "agent-1"},
			wantErr: ErrMissingType,
		},
		{
			name:    "unknown type",
			req:     OperationRequest{Type: "format_disk", AgentID: "agent-1"},
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing agent",
			req:     OperationRequest{Type: TypeFileRead},
			wantErr: ErrMissingAgentID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr.Error()) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" File_Read ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != TypeFileRead {
		t.Errorf("expected %s, got %s", TypeFileRead, typ)
	}

	if _, err := ParseType(""); err != ErrMissingType {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
	if _, err := ParseType("nonsense"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestFingerprint_IgnoresIncidentalAttributes(t *testing.T) {
	r1 := OperationRequest{
		Type:    TypeFileWrite,
		AgentID: "agent-1",
		Attributes: map[string]string{
			"path":      "/workspace/reports/summary.md",
			"size":      "1024",
			"requestId": "abc-123",
		},
	}
	r2 := OperationRequest{
		Type:    TypeFileWrite,
		AgentID: "agent-2", // different agent, different incidental attrs
		Attributes: map[string]string{
			"path": "/workspace/reports/standup.md",
			"size": "99",
		},
	}

	if r1.Fingerprint() != r2.Fingerprint() {
		t.Errorf("same shape must fingerprint identically: %s vs %s", r1.Fingerprint(), r2.Fingerprint())
	}
}

func TestFingerprint_DistinguishesShape(t *testing.T) {
	base := OperationRequest{Type: TypeFileWrite, AgentID: "a", Attributes: map[string]string{"path": "/workspace/reports/summary.md"}}

	otherDir := base
	otherDir.Attributes = map[string]string{"path": "/etc/summary.md"}
	if base.Fingerprint() == otherDir.Fingerprint() {
		t.Error("different directories must not collide")
	}

	otherExt := base
	otherExt.Attributes = map[string]string{"path": "/workspace/reports/summary.json"}
	if base.Fingerprint() == otherExt.Fingerprint() {
		t.Error("different extensions must not collide")
	}

	otherType := base
	otherType.Type = TypeFileDelete
	if base.Fingerprint() == otherType.Fingerprint() {
		t.Error("different request types must not collide")
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	r := OperationRequest{
		Type:    TypeServiceRestart,
		AgentID: "ops",
		Attributes: map[string]string{
			"service": "Indexer",
		},
	}
	first := r.Fingerprint()
	for i := 0; i < 10; i++ {
		if got := r.Fingerprint(); got != first {
			t.Fatalf("fingerprint not deterministic: %s vs %s", first, got)
		}
	}
}

func TestReducedAttributes(t *testing.T) {
	r := OperationRequest{
		Type:    TypeFileRead,
		AgentID: "a",
		Attributes: map[string]string{
			"path":    "/var/log/app.log",
			"service": "  Indexer ",
			"extra":   "dropped",
		},
	}
	reduced := r.ReducedAttributes()

	if got := reduced["path"]; got != "/var/log/*.log" {
		t.Errorf("path reduction: got %q", got)
	}
	if got := reduced["service"]; got != "indexer" {
		t.Errorf("service normalization: got %q", got)
	}
	if _, ok := reduced["extra"]; ok {
		t.Error("incidental attribute leaked into reduction")
	}

	keys := sortedKeys(reduced)
	if len(keys) != 2 {
		t.Errorf("expected 2 reduced attributes, got %v", keys)
	}
}

func TestReducePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/var/log/app.log", "/var/log/*.log"},
		{"/var/log/other.log", "/var/log/*.log"},
		{"/workspace/data.JSON", "/workspace/*.json"},
		{"/workspace/bin/tool", "/workspace/bin/*"},
		{"relative/file.txt", "relative/*.txt"},
	}
	for _, tt := range tests {
		if got := reducePath(tt.in); got != tt.want {
			t.Errorf("reducePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

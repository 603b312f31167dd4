// Package request defines the operation requests that agents submit for gating.
//
// A request is ephemeral: it exists only for the duration of one evaluation and
// is never persisted directly. What survives is the Decision snapshot (audit)
// and the request's fingerprint (pattern history).
package request

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrMissingType    = errors.New("request: requestType is required")
	ErrUnknownType    = errors.New("request: unknown requestType")
	ErrMissingAgentID = errors.New("request: agentId is required")
)

// Type is the closed set of operation kinds the engine knows how to gate.
type Type string

const (
	TypeFileRead          Type = "file_read"
	TypeFileWrite         Type = "file_write"
	TypeFileDelete        Type = "file_delete"
	TypeFileMove          Type = "file_move"
	TypeDirList           Type = "dir_list"
	TypeServiceStart      Type = "service_start"
	TypeServiceStop       Type = "service_stop"
	TypeServiceRestart    Type = "service_restart"
	TypeHealthCheck       Type = "health_check"
	TypeLogAnalysis       Type = "log_analysis"
	TypeReportGenerate    Type = "report_generate"
	TypeContextSave       Type = "context_save"
	TypeConfigUpdate      Type = "config_update"
	TypeDependencyInstall Type = "dependency_install"
)

// AllTypes lists every valid request type, in a stable order.
var AllTypes = []Type{
	TypeFileRead,
	TypeFileWrite,
	TypeFileDelete,
	TypeFileMove,
	TypeDirList,
	TypeServiceStart,
	TypeServiceStop,
	TypeServiceRestart,
	TypeHealthCheck,
	TypeLogAnalysis,
	TypeReportGenerate,
	TypeContextSave,
	TypeConfigUpdate,
	TypeDependencyInstall,
}

// IsValid reports whether t is a known request type.
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a wire string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return "", ErrMissingType
	}
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// OperationRequest is what an agent asks permission to do.
type OperationRequest struct {
	Type       Type              `json:"requestType"`
	Attributes map[string]string `json:"attributes,omitempty"`
	AgentID    string            `json:"agentId"`
}

// Validate rejects malformed requests before any classification happens.
// A failed validation is never persisted.
func (r *OperationRequest) Validate() error {
	if r.Type == "" {
		return ErrMissingType
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return ErrMissingAgentID
	}
	return nil
}

// Attr returns the named attribute, or "" if absent.
func (r *OperationRequest) Attr(name string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[name]
}

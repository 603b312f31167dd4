package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GreenlightClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GreenlightClient) *Handlers {
	return &Handlers{client: client}
}

// HandleEvaluateOperation submits an operation and formats the decision.
func (h *Handlers) HandleEvaluateOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestType := req.GetString("request_type", "")
	if requestType == "" {
		return mcp.NewToolResultError("request_type is required"), nil
	}

	attributes := make(map[string]string)
	if raw := req.GetArguments()["attributes"]; raw != nil {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				if s, ok := v.(string); ok {
					attributes[k] = s
				} else {
					attributes[k] = fmt.Sprintf("%v", v)
				}
			}
		}
	}

	raw, err := h.client.EvaluateOperation(ctx, requestType, attributes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Evaluation failed: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRecordOutcome reports an operation outcome.
func (h *Handlers) HandleRecordOutcome(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decisionID := req.GetString("decision_id", "")
	if decisionID == "" {
		return mcp.NewToolResultError("decision_id is required"), nil
	}
	outcome := req.GetString("outcome", "")
	if outcome == "" {
		return mcp.NewToolResultError("outcome is required"), nil
	}
	errorDetail := req.GetString("error_detail", "")

	raw, err := h.client.RecordOutcome(ctx, decisionID, outcome, errorDetail)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record outcome: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}
	return mcp.NewToolResultText("Outcome recorded.\n\n" + text), nil
}

// HandleListDecisions lists the agent's recent decisions.
func (h *Handlers) HandleListDecisions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestType := req.GetString("request_type", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListDecisions(ctx, requestType, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list decisions: %v", err)), nil
	}

	text, err := formatDecisionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decisions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetReport fetches the acceptance report.
func (h *Handlers) HandleGetReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	windowHours := req.GetInt("window_hours", 24)

	raw, err := h.client.GetReport(ctx, windowHours)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get report: %v", err)), nil
	}

	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleEmergencyStatus reports the emergency stop state.
func (h *Handlers) HandleEmergencyStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetEmergencyStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get emergency status: %v", err)), nil
	}

	text, err := formatEmergency(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatters ---

func formatDecision(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	verdict := "DENIED (requires human approval)"
	if accepted, _ := m["autoAccepted"].(bool); accepted {
		verdict = "AUTO-ACCEPTED"
	}
	fmt.Fprintf(&sb, "Decision: %s\n", verdict)
	if v := getString(m, "id"); v != "" {
		fmt.Fprintf(&sb, "  ID: %s\n", v)
	}
	if v := getString(m, "requestType"); v != "" {
		fmt.Fprintf(&sb, "  Operation: %s\n", v)
	}
	if v, ok := getFloat(m, "riskLevel"); ok {
		fmt.Fprintf(&sb, "  Risk level: %.0f/5\n", v)
	}
	if v, ok := getFloat(m, "confidenceScore"); ok {
		fmt.Fprintf(&sb, "  Confidence: %.3f\n", v)
	}
	if v := getString(m, "reasoning"); v != "" {
		fmt.Fprintf(&sb, "  Reasoning: %s\n", v)
	}
	if v := getString(m, "outcome"); v != "" {
		fmt.Fprintf(&sb, "  Outcome: %s\n", v)
	}
	return sb.String(), nil
}

func formatDecisionList(raw json.RawMessage) (string, error) {
	var resp struct {
		Decisions []map[string]any `json:"decisions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected decisions response format")
	}

	if len(resp.Decisions) == 0 {
		return "No decisions found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d decision(s), newest first:\n\n", len(resp.Decisions))
	for i, d := range resp.Decisions {
		verdict := "denied"
		if accepted, _ := d["autoAccepted"].(bool); accepted {
			verdict = "auto-accepted"
		}
		fmt.Fprintf(&sb, "%d. %s  %s  %s", i+1, getString(d, "id"), getString(d, "requestType"), verdict)
		if v := getString(d, "outcome"); v != "" {
			fmt.Fprintf(&sb, "  outcome=%s", v)
		} else if accepted, _ := d["autoAccepted"].(bool); accepted {
			sb.WriteString("  (outcome not yet recorded)")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatReport(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	if v, ok := getFloat(m, "window_hours"); ok {
		fmt.Fprintf(&sb, "Acceptance report (last %.0fh):\n", v)
	} else {
		sb.WriteString("Acceptance report:\n")
	}
	if v, ok := getFloat(m, "total_decisions"); ok {
		fmt.Fprintf(&sb, "  Decisions:     %.0f\n", v)
	}
	if v, ok := getFloat(m, "auto_accepted"); ok {
		fmt.Fprintf(&sb, "  Auto-accepted: %.0f\n", v)
	}
	if v, ok := getFloat(m, "successful"); ok {
		fmt.Fprintf(&sb, "  Successful:    %.0f\n", v)
	}
	if v, ok := getFloat(m, "failed"); ok {
		fmt.Fprintf(&sb, "  Failed:        %.0f\n", v)
	}
	if v, ok := getFloat(m, "avg_confidence"); ok {
		fmt.Fprintf(&sb, "  Avg confidence: %.3f\n", v)
	}
	if active, _ := m["emergency_stop_active"].(bool); active {
		sb.WriteString("  EMERGENCY STOP IS ACTIVE\n")
	}

	if byType, ok := m["breakdown_by_type"].(map[string]any); ok && len(byType) > 0 {
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)
		sb.WriteString("\nBy operation type:\n")
		for _, t := range types {
			row, ok := byType[t].(map[string]any)
			if !ok {
				continue
			}
			total, _ := getFloat(row, "total")
			accepted, _ := getFloat(row, "auto_accepted")
			fmt.Fprintf(&sb, "  %-18s total=%.0f auto_accepted=%.0f\n", t, total, accepted)
		}
	}
	return sb.String(), nil
}

func formatEmergency(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	tripped, _ := m["tripped"].(bool)
	if !tripped {
		return "Emergency stop: inactive. Normal evaluation is in effect.", nil
	}

	var sb strings.Builder
	sb.WriteString("EMERGENCY STOP IS ACTIVE. All evaluations are denied.\n")
	if v := getString(m, "reason"); v != "" {
		fmt.Fprintf(&sb, "  Reason: %s\n", v)
	}
	if v := getString(m, "tripped_at"); v != "" {
		fmt.Fprintf(&sb, "  Since: %s\n", v)
	}
	sb.WriteString("Stop issuing operations until an operator resets the stop.")
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:  ts.URL,
		APIKey:  "glk_test_key",
		AgentID: "mcp-agent",
	}
	client := NewGreenlightClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"tripped":false}`))
	}))
	defer ts.Close()

	client := NewGreenlightClient(Config{APIURL: ts.URL, APIKey: "glk_secret123", AgentID: "a1"})
	_, err := client.GetEmergencyStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer glk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "already_resolved",
			"message": "An outcome has already been recorded for this decision",
		})
	}))
	defer ts.Close()

	client := NewGreenlightClient(Config{APIURL: ts.URL, APIKey: "glk_x", AgentID: "a1"})
	_, err := client.RecordOutcome(context.Background(), "dec_abc", "success", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "already been recorded")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewGreenlightClient(Config{APIURL: ts.URL, APIKey: "glk_x", AgentID: "a1"})
	_, err := client.GetReport(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_EvaluateOperation_SendsAgentID(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/decisions/evaluate", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"id":"dec_1","autoAccepted":false}`))
	}))
	defer ts.Close()

	client := NewGreenlightClient(Config{APIURL: ts.URL, APIKey: "glk_x", AgentID: "mcp-agent"})
	_, err := client.EvaluateOperation(context.Background(), "file_read", map[string]string{"path": "/tmp/a"})
	require.NoError(t, err)
	assert.Equal(t, "mcp-agent", gotBody["agentId"])
	assert.Equal(t, "file_read", gotBody["requestType"])
}

func TestClient_ListDecisions_QueryParams(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"decisions":[]}`))
	}))
	defer ts.Close()

	client := NewGreenlightClient(Config{APIURL: ts.URL, APIKey: "glk_x", AgentID: "mcp-agent"})
	_, err := client.ListDecisions(context.Background(), "file_write", 5)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "agent_id=mcp-agent")
	assert.Contains(t, gotQuery, "request_type=file_write")
	assert.Contains(t, gotQuery, "limit=5")
}

// ============================================================
// evaluate_operation
// ============================================================

func TestHandleEvaluateOperation_Denied(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":              "dec_0123456789abcdef01234567",
			"requestType":     "file_delete",
			"riskLevel":       4,
			"confidenceScore": 0.3,
			"autoAccepted":    false,
			"reasoning":       "confidence 0.300 below required 0.900",
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"request_type": "file_delete",
		"attributes":   map[string]any{"path": "/tmp/old.log"},
	})
	result, err := h.HandleEvaluateOperation(context.Background(), req)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "DENIED")
	assert.Contains(t, text, "dec_0123456789abcdef01234567")
	assert.Contains(t, text, "Risk level: 4/5")
	assert.Contains(t, text, "confidence 0.300 below required")
}

func TestHandleEvaluateOperation_Accepted(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":              "dec_1",
			"requestType":     "file_read",
			"riskLevel":       1,
			"confidenceScore": 0.85,
			"autoAccepted":    true,
			"reasoning":       "confidence 0.850 meets required 0.500",
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{"request_type": "file_read"})
	result, err := h.HandleEvaluateOperation(context.Background(), req)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "AUTO-ACCEPTED")
	assert.Contains(t, text, "Confidence: 0.850")
}

func TestHandleEvaluateOperation_MissingType(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))
	defer cleanup()

	result, err := h.HandleEvaluateOperation(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "request_type is required")
}

func TestHandleEvaluateOperation_CoercesNonStringAttributes(t *testing.T) {
	var gotBody map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"id":"dec_1","autoAccepted":false}`))
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"request_type": "service_restart",
		"attributes":   map[string]any{"service": "api-gateway", "attempt": 2},
	})
	_, err := h.HandleEvaluateOperation(context.Background(), req)
	require.NoError(t, err)

	attrs, ok := gotBody["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2", attrs["attempt"])
}

// ============================================================
// record_outcome
// ============================================================

func TestHandleRecordOutcome_Success(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/decisions/dec_abc/outcome", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "dec_abc",
			"requestType":  "file_write",
			"autoAccepted": true,
			"outcome":      "success",
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{"decision_id": "dec_abc", "outcome": "success"})
	result, err := h.HandleRecordOutcome(context.Background(), req)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Outcome recorded")
	assert.Contains(t, text, "Outcome: success")
}

func TestHandleRecordOutcome_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))
	defer cleanup()

	result, err := h.HandleRecordOutcome(context.Background(), makeRequest(map[string]any{"outcome": "success"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.HandleRecordOutcome(context.Background(), makeRequest(map[string]any{"decision_id": "dec_abc"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecordOutcome_Conflict(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "already_resolved",
			"message": "An outcome has already been recorded for this decision",
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{"decision_id": "dec_abc", "outcome": "failure"})
	result, err := h.HandleRecordOutcome(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already been recorded")
}

// ============================================================
// list_decisions
// ============================================================

func TestHandleListDecisions_Formats(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"decisions": []map[string]any{
				{"id": "dec_2", "requestType": "file_write", "autoAccepted": true},
				{"id": "dec_1", "requestType": "file_read", "autoAccepted": false, "outcome": "manual_override"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleListDecisions(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 decision(s)")
	assert.Contains(t, text, "dec_2")
	assert.Contains(t, text, "outcome not yet recorded")
	assert.Contains(t, text, "outcome=manual_override")
}

func TestHandleListDecisions_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"decisions":[]}`))
	}))
	defer cleanup()

	result, err := h.HandleListDecisions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No decisions found.", resultText(t, result))
}

// ============================================================
// get_report
// ============================================================

func TestHandleGetReport_Formats(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "window_hours=48", r.URL.RawQuery)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"window_hours":    48,
			"total_decisions": 120,
			"auto_accepted":   90,
			"successful":      85,
			"failed":          5,
			"avg_confidence":  0.712,
			"breakdown_by_type": map[string]any{
				"file_read":  map[string]any{"total": 100, "auto_accepted": 80},
				"file_write": map[string]any{"total": 20, "auto_accepted": 10},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetReport(context.Background(), makeRequest(map[string]any{"window_hours": 48}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "last 48h")
	assert.Contains(t, text, "Decisions:     120")
	assert.Contains(t, text, "Auto-accepted: 90")
	assert.Contains(t, text, "Avg confidence: 0.712")
	assert.Contains(t, text, "file_read")
	assert.NotContains(t, text, "EMERGENCY STOP")
}

func TestHandleGetReport_EmergencyFlagged(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"window_hours":          24,
			"total_decisions":       3,
			"emergency_stop_active": true,
		})
	}))
	defer cleanup()

	result, err := h.HandleGetReport(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "EMERGENCY STOP IS ACTIVE")
}

// ============================================================
// emergency_status
// ============================================================

func TestHandleEmergencyStatus_Inactive(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/emergency", r.URL.Path)
		_, _ = w.Write([]byte(`{"tripped":false}`))
	}))
	defer cleanup()

	result, err := h.HandleEmergencyStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "inactive")
}

func TestHandleEmergencyStatus_Active(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tripped":    true,
			"reason":     "failure ratio 0.42 over threshold",
			"tripped_at": "2026-08-30T10:00:00Z",
		})
	}))
	defer cleanup()

	result, err := h.HandleEmergencyStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "EMERGENCY STOP IS ACTIVE")
	assert.Contains(t, text, "failure ratio 0.42")
	assert.Contains(t, text, "2026-08-30T10:00:00Z")
}

// ============================================================
// Server wiring
// ============================================================

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080", APIKey: "glk_x", AgentID: "a1"})
	require.NotNil(t, s)
}

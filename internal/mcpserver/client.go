package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Greenlight API.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	APIKey  string // API key, e.g. "glk_..."
	AgentID string // Agent identifier the key belongs to
}

// GreenlightClient is a pure HTTP client for the Greenlight decision API.
type GreenlightClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGreenlightClient creates a new client for the Greenlight API.
func NewGreenlightClient(cfg Config) *GreenlightClient {
	return &GreenlightClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *GreenlightClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// EvaluateOperation submits an operation for a decision.
func (c *GreenlightClient) EvaluateOperation(ctx context.Context, requestType string, attributes map[string]string) (json.RawMessage, error) {
	body := map[string]any{
		"requestType": requestType,
		"attributes":  attributes,
		"agentId":     c.cfg.AgentID,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/decisions/evaluate", nil, body)
}

// RecordOutcome reports how an approved operation actually went.
func (c *GreenlightClient) RecordOutcome(ctx context.Context, decisionID, outcome, errorDetail string) (json.RawMessage, error) {
	body := map[string]string{"outcome": outcome}
	if errorDetail != "" {
		body["errorDetail"] = errorDetail
	}
	path := "/v1/decisions/" + decisionID + "/outcome"
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// GetDecision fetches a single decision by ID.
func (c *GreenlightClient) GetDecision(ctx context.Context, decisionID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/decisions/"+decisionID, nil, nil)
}

// ListDecisions returns recent decisions, optionally filtered.
func (c *GreenlightClient) ListDecisions(ctx context.Context, requestType string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("agent_id", c.cfg.AgentID)
	if requestType != "" {
		q.Set("request_type", requestType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/decisions", q, nil)
}

// GetReport returns the acceptance report for a trailing window.
func (c *GreenlightClient) GetReport(ctx context.Context, windowHours int) (json.RawMessage, error) {
	q := url.Values{}
	if windowHours > 0 {
		q.Set("window_hours", strconv.Itoa(windowHours))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/report", q, nil)
}

// GetEmergencyStatus returns the current emergency stop state.
func (c *GreenlightClient) GetEmergencyStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/emergency", nil, nil)
}

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/greenlight-sh/greenlight/internal/audit"
	"github.com/greenlight-sh/greenlight/internal/auth"
	"github.com/greenlight-sh/greenlight/internal/engine"
	"github.com/greenlight-sh/greenlight/internal/logging"
	"github.com/greenlight-sh/greenlight/internal/pagination"
	"github.com/greenlight-sh/greenlight/internal/request"
	"github.com/greenlight-sh/greenlight/internal/validation"
)

// evaluateRequest is the body for POST /v1/decisions/evaluate.
type evaluateRequest struct {
	RequestType string            `json:"requestType" binding:"required"`
	Attributes  map[string]string `json:"attributes"`
	AgentID     string            `json:"agentId"`
}

func (s *Server) evaluateHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "requestType is required",
		})
		return
	}

	// The key identifies the caller; an omitted agentId defaults to it, a
	// mismatched one is rejected so agents cannot pollute each other's history.
	caller := auth.GetAuthenticatedAgent(c)
	req.AgentID = strings.ToLower(req.AgentID)
	if req.AgentID == "" {
		req.AgentID = caller
	} else if req.AgentID != caller {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "agent_mismatch",
			"message": "agentId must match the authenticated agent",
		})
		return
	}

	typ, err := request.ParseType(req.RequestType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request_type",
			"message": err.Error(),
		})
		return
	}

	op := &request.OperationRequest{
		Type:       typ,
		Attributes: validation.SanitizeAttributes(req.Attributes),
		AgentID:    req.AgentID,
	}

	decision, err := s.engine.Evaluate(ctx, op)
	if err != nil {
		if errors.Is(err, request.ErrMissingType) ||
			errors.Is(err, request.ErrUnknownType) ||
			errors.Is(err, request.ErrMissingAgentID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		logging.L(ctx).Error("evaluation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to evaluate request",
		})
		return
	}

	c.JSON(http.StatusOK, decision)
}

// outcomeRequest is the body for POST /v1/decisions/:decisionId/outcome.
type outcomeRequest struct {
	Outcome     string `json:"outcome" binding:"required"`
	ErrorDetail string `json:"errorDetail"`
}

func (s *Server) outcomeHandler(c *gin.Context) {
	ctx := c.Request.Context()
	decisionID := c.Param("decisionId")

	if !validation.IsValidID(decisionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "malformed decision id",
		})
		return
	}

	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome is required",
		})
		return
	}

	// Outcomes may only be reported by the agent the decision belongs to.
	existing, err := s.auditLog.Get(ctx, decisionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "decision_not_found",
			"message": "No decision with this id",
		})
		return
	}
	if existing.AgentID != auth.GetAuthenticatedAgent(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "agent_mismatch",
			"message": "decision belongs to a different agent",
		})
		return
	}

	decision, err := s.engine.RecordOutcome(ctx, decisionID, audit.OutcomeKind(req.Outcome), req.ErrorDetail)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, decision)
	case errors.Is(err, engine.ErrInvalidOutcome):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_outcome",
			"message": "outcome must be one of success, failure, partial, rolled_back, manual_override",
		})
	case errors.Is(err, audit.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "An outcome has already been recorded for this decision",
		})
	case errors.Is(err, audit.ErrDecisionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "decision_not_found",
			"message": "No decision with this id",
		})
	default:
		logging.L(ctx).Error("outcome recording failed", "decision_id", decisionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record outcome",
		})
	}
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) listDecisionsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	// Agent scope comes from the URL on /agents/:agentID/decisions, or from
	// a query filter on the flat listing.
	agentID := c.Param("agentID")
	if agentID == "" {
		agentID = c.Query("agent_id")
		if errs := validation.Validate(validation.ValidAgent("agent_id", agentID)); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": errs.Error()})
			return
		}
	}

	filter := audit.QueryFilter{
		AgentID:     agentID,
		RequestType: c.Query("request_type"),
		Outcome:     audit.OutcomeKind(c.Query("outcome")),
	}

	if v := c.Query("auto_accepted"); v != "" {
		accepted, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": "auto_accepted must be a boolean"})
			return
		}
		filter.AutoAccepted = &accepted
	}
	if v := c.Query("min_risk_level"); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil || level < 1 || level > 5 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": "min_risk_level must be 1-5"})
			return
		}
		filter.MinRiskLevel = level
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": "until must be RFC3339"})
			return
		}
		filter.Until = t
	}

	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed cursor"})
		return
	}
	if cursor != nil {
		filter.Before = cursor.CreatedAt
		filter.BeforeID = cursor.ID
	}

	// Fetch one extra row to learn whether another page exists.
	filter.Limit = limit + 1

	decisions, err := s.auditLog.Query(ctx, filter)
	if err != nil {
		logging.L(ctx).Error("decision query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to query decisions"})
		return
	}

	page, nextCursor, hasMore := pagination.ComputePage(decisions, limit, func(d *audit.Decision) (time.Time, string) {
		return d.Timestamp, d.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"decisions":   page,
		"count":       len(page),
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

func (s *Server) getDecisionHandler(c *gin.Context) {
	decisionID := c.Param("decisionId")
	if !validation.IsValidID(decisionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "malformed decision id",
		})
		return
	}

	decision, err := s.auditLog.Get(c.Request.Context(), decisionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "decision_not_found",
			"message": "No decision with this id",
		})
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (s *Server) reportHandler(c *gin.Context) {
	ctx := c.Request.Context()

	windowHours := 24
	if v := c.Query("window_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24*90 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filter", "message": "window_hours must be 1-2160"})
			return
		}
		windowHours = n
	}

	report, err := s.engine.Report(ctx, windowHours)
	if err != nil {
		logging.L(ctx).Error("report generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to generate report"})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) emergencyStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.EmergencyState())
}

// emergencyTripRequest is the body for POST /v1/emergency/trip.
type emergencyTripRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) emergencyTripHandler(c *gin.Context) {
	var req emergencyTripRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual trip"
	}

	s.engine.TripEmergency(c.Request.Context(), validation.SanitizeString(req.Reason, 256))
	c.JSON(http.StatusOK, s.engine.EmergencyState())
}

// emergencyResetRequest is the body for POST /v1/emergency/reset.
type emergencyResetRequest struct {
	Token string `json:"token"`
}

func (s *Server) emergencyResetHandler(c *gin.Context) {
	var req emergencyResetRequest
	_ = c.ShouldBindJSON(&req)

	if !s.engine.ResetEmergency(c.Request.Context(), req.Token) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "reset_refused",
			"message": "invalid reset token",
		})
		return
	}

	c.JSON(http.StatusOK, s.engine.EmergencyState())
}

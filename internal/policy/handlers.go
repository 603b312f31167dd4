package policy

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/greenlight-sh/greenlight/internal/idgen"
	"github.com/greenlight-sh/greenlight/internal/request"
	"github.com/greenlight-sh/greenlight/internal/validation"
)

// Handler provides HTTP endpoints for SOP rule administration.
type Handler struct {
	store     Store
	evaluator *Evaluator // cache invalidation on mutation
}

// NewHandler creates a rule admin handler.
func NewHandler(store Store, evaluator *Evaluator) *Handler {
	return &Handler{store: store, evaluator: evaluator}
}

// RegisterRoutes sets up rule routes under the admin-protected group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rules", h.List)
	r.POST("/rules", h.Create)
	r.GET("/rules/:ruleId", h.Get)
	r.PUT("/rules/:ruleId", h.Update)
	r.DELETE("/rules/:ruleId", h.Delete)
}

type ruleRequest struct {
	RequestType          string      `json:"requestType"`
	Name                 string      `json:"name"`
	Conditions           []Condition `json:"conditions"`
	RequiredConfidence   float64     `json:"requiredConfidence"`
	MaxRiskLevel         int         `json:"maxRiskLevel"`
	RequiresVerification bool        `json:"requiresVerification"`
	Enabled              *bool       `json:"enabled"`
	Position             int         `json:"position"`
}

// check reports field-level errors before a rule is constructed.
func (r *ruleRequest) check() validation.ValidationErrors {
	return validation.Validate(
		validation.Required("requestType", r.RequestType),
		validation.Required("name", r.Name),
		validation.MaxLength("name", r.Name, 200),
		validation.Fraction("requiredConfidence", &r.RequiredConfidence),
	)
}

// Create handles POST /v1/rules
func (h *Handler) Create(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed rule body"})
		return
	}
	if errs := req.check(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "fields": errs})
		return
	}

	if _, err := request.ParseType(req.RequestType); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	rule := &SOPRule{
		ID:                   idgen.WithPrefix("rule_"),
		RequestType:          req.RequestType,
		Name:                 validation.SanitizeString(req.Name, 200),
		Conditions:           req.Conditions,
		RequiredConfidence:   req.RequiredConfidence,
		MaxRiskLevel:         req.MaxRiskLevel,
		RequiresVerification: req.RequiresVerification,
		Enabled:              enabled,
		Position:             req.Position,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := ValidateRule(rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}

	if err := h.store.Create(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create rule"})
		return
	}

	h.evaluator.InvalidateCache(rule.RequestType)
	c.JSON(http.StatusCreated, rule)
}

// List handles GET /v1/rules
func (h *Handler) List(c *gin.Context) {
	var (
		rules []*SOPRule
		err   error
	)
	if typ := c.Query("requestType"); typ != "" {
		rules, err = h.store.ListByType(c.Request.Context(), typ)
	} else {
		rules, err = h.store.List(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// Get handles GET /v1/rules/:ruleId
func (h *Handler) Get(c *gin.Context) {
	rule, err := h.store.Get(c.Request.Context(), c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to fetch rule"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Update handles PUT /v1/rules/:ruleId
func (h *Handler) Update(c *gin.Context) {
	existing, err := h.store.Get(c.Request.Context(), c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to fetch rule"})
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed rule body"})
		return
	}
	// The type is immutable on update; the body does not have to carry it.
	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
		validation.Fraction("requiredConfidence", &req.RequiredConfidence),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": errs.Error(), "fields": errs})
		return
	}

	enabled := existing.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	updated := &SOPRule{
		ID:                   existing.ID,
		RequestType:          existing.RequestType, // type is immutable
		Name:                 validation.SanitizeString(req.Name, 200),
		Conditions:           req.Conditions,
		RequiredConfidence:   req.RequiredConfidence,
		MaxRiskLevel:         req.MaxRiskLevel,
		RequiresVerification: req.RequiresVerification,
		Enabled:              enabled,
		Position:             req.Position,
		CreatedAt:            existing.CreatedAt,
		UpdatedAt:            time.Now(),
	}

	if err := ValidateRule(updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}

	if err := h.store.Update(c.Request.Context(), updated); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update rule"})
		return
	}

	h.evaluator.InvalidateCache(updated.RequestType)
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /v1/rules/:ruleId
func (h *Handler) Delete(c *gin.Context) {
	rule, err := h.store.Get(c.Request.Context(), c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to fetch rule"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), rule.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete rule"})
		return
	}

	h.evaluator.InvalidateCache(rule.RequestType)
	c.JSON(http.StatusOK, gin.H{"deleted": rule.ID})
}

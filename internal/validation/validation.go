// Package validation provides input validation middleware for the Greenlight API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxAttributes caps the attribute map on an operation request.
const MaxAttributes = 32

var (
	// agentIDRegex validates agent identifiers: lowercase alphanumerics,
	// dashes and underscores, 1-64 chars.
	agentIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	// idRegex validates generated IDs (prefix + hex).
	idRegex = regexp.MustCompile(`^[a-z]+_[a-f0-9]{24}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAgentID checks if a string is a well-formed agent identifier
func IsValidAgentID(id string) bool {
	return agentIDRegex.MatchString(id)
}

// IsValidID checks if a string is a well-formed generated ID (e.g. dec_...)
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// SanitizeAttributes trims and length-caps every key and value. Empty keys
// are dropped; the map is truncated at MaxAttributes entries.
func SanitizeAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		k = SanitizeString(k, 128)
		if k == "" {
			continue
		}
		out[k] = SanitizeString(v, 1024)
		if len(out) >= MaxAttributes {
			break
		}
	}
	return out
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAgent checks if a field is a well-formed agent identifier
func ValidAgent(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAgentID(value) {
			return &ValidationError{Field: field, Message: "must be a valid agent id (lowercase alphanumeric, - and _)"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Fraction checks if a value parses as a float in [0,1]. Empty values pass;
// use Required for required fields.
func Fraction(field string, value *float64) func() *ValidationError {
	return func() *ValidationError {
		if value == nil {
			return nil
		}
		if *value < 0 || *value > 1 {
			return &ValidationError{Field: field, Message: "must be between 0 and 1"}
		}
		return nil
	}
}

// AgentParamMiddleware validates the :agentID URL parameter on routes that use it.
// Apply to route groups that include :agentID params to reject malformed ids early.
func AgentParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("agentID")
		if id != "" && !IsValidAgentID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_agent_id",
				"message": "agent id must be lowercase alphanumeric with - or _, at most 64 chars",
			})
			return
		}
		c.Next()
	}
}

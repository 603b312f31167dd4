package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the gin context key for the validated API key.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAgentID is the gin context key for the authenticated agent.
	ContextKeyAgentID = "authAgentID"
)

// Middleware extracts and validates the API key, if any. It never rejects;
// pair it with RequireAuth on routes that demand authentication.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}
		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAgentID, key.AgentID)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests that did not present a valid API key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer glk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin guards administrative routes with the shared admin secret,
// presented as a bearer token or the X-Admin-Secret header.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if presented == "" {
			presented = c.GetHeader("X-Admin-Secret")
		}
		if !SecretsMatch(presented, secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the validated API key from context, if any.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// GetAuthenticatedAgent returns the authenticated agent's ID, or "".
func GetAuthenticatedAgent(c *gin.Context) string {
	id, exists := c.Get(ContextKeyAgentID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsAuthenticated reports whether the request carried a valid key.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}

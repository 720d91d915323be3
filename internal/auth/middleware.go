package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing the API key in gin context.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyExaminer is the key for the authenticated examiner ref.
	ContextKeyExaminer = "authExaminerRef"
)

// Middleware extracts and validates the API key from the request.
// Sets apiKey and authExaminerRef in context if valid.
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
				c.Set(ContextKeyExaminer, key.ExaminerRef)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without a valid examiner key.
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdminSecret gates key-minting routes behind the operator secret.
// The comparison is constant-time.
func RequireAdminSecret(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("X-Admin-Secret")
		if adminSecret == "" ||
			subtle.ConstantTimeCompare([]byte(supplied), []byte(adminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated).
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// GetAuthenticatedExaminer returns the authenticated examiner's ref.
func GetAuthenticatedExaminer(c *gin.Context) string {
	ref, exists := c.Get(ContextKeyExaminer)
	if !exists {
		return ""
	}
	return ref.(string)
}

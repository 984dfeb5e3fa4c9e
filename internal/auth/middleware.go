package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyOperator is the key for storing the authenticated operator in gin context
	ContextKeyOperator = "operator"

	// DevOperator is the operator name used when no secret is configured
	DevOperator = "dev"
)

// RequireOperator rejects requests without a valid operator token.
// Sets operator in context on success.
func RequireOperator(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.Open() {
			c.Set(ContextKeyOperator, DevOperator)
			c.Next()
			return
		}

		claims, err := m.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Operator token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Next()
	}
}

// GetOperator returns the authenticated operator, or "" if none.
func GetOperator(c *gin.Context) string {
	if v, exists := c.Get(ContextKeyOperator); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Whoami handles GET /auth/whoami
func Whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operator": GetOperator(c)})
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Tenant promotes the verified claims into per-request tenant context.
// Every handler below this middleware reads tenant_id from the context,
// never from the request body or URL.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get("claims")
		if !exists {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Claims not found"})
			c.Abort()
			return
		}

		claims := raw.(*Claims)
		if claims.Subject == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Tenant not found in token"})
			c.Abort()
			return
		}

		c.Set("tenant_id", claims.Subject)
		c.Set("user_email", claims.Email)
		c.Set("plan_level", claims.PlanLevel)

		c.Next()
	}
}

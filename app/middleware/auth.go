package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"loadwarden/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Auth checks the bearer token against apiKey. An empty apiKey disables the
// check.
func Auth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// Browsers cannot set headers on WebSocket upgrades.
			token = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logger.WarnCtx(c.Request.Context(), "unauthorized request to %s, invalid API key", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}

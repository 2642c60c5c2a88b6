package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/logger"
)

// CORS returns a middleware that handles CORS
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Tokens, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			logger.WithFields(map[string]interface{}{
				"path":   c.Request.URL.Path,
				"origin": c.Request.Header.Get("Origin"),
			}).Debug("CORS preflight request handled")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

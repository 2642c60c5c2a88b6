package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/queue"
	"github.com/imyashkale/spun/internal/services"
)

// respondError maps a service error onto the HTTP taxonomy
func respondError(c *gin.Context, err error) {
	var conflict *services.ConflictError

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "name_taken",
			"message":    err.Error(),
			"suggestion": conflict.Suggestion,
		})
	case errors.Is(err, services.ErrInvalidName),
		errors.Is(err, services.ErrInvalidPackageManager),
		errors.Is(err, services.ErrArchiveEmpty),
		errors.Is(err, services.ErrArchiveTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": err.Error(),
		})
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "queue_full",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrAppNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "app_not_found",
			"message": "App not found",
		})
	case errors.Is(err, services.ErrDeployNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "deploy_not_found",
			"message": "Deploy not found",
		})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Owner token or admin credential required",
		})
	default:
		logger.WithFields(map[string]interface{}{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}

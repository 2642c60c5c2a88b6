package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/middleware"
	"github.com/imyashkale/spun/internal/models"
)

// Analytics bounds for GET /admin/analytics
const (
	DefaultAnalyticsEvents = 100
	MaxAnalyticsEvents     = 1000
)

// EventReader returns the most recent deploy events
type EventReader interface {
	Tail(n int) ([]map[string]interface{}, error)
}

// AdminHandler handles admin-only operations
type AdminHandler struct {
	apps   AppManager
	events EventReader
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(apps AppManager, events EventReader) *AdminHandler {
	return &AdminHandler{
		apps:   apps,
		events: events,
	}
}

// MarkPermanent handles POST /admin/permanent
func (h *AdminHandler) MarkPermanent(c *gin.Context) {
	var req models.MarkPermanentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": err.Error(),
		})
		return
	}

	app, err := h.apps.MarkPermanent(c.Request.Context(), req.Name, middleware.CallerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      req.Name,
		"url":       app.URL(),
		"permanent": app.Permanent,
	})
}

// Analytics handles GET /admin/analytics?last=N
func (h *AdminHandler) Analytics(c *gin.Context) {
	last := DefaultAnalyticsEvents
	if raw := c.Query("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bad_request",
				"message": "last must be a positive integer",
			})
			return
		}
		last = min(n, MaxAnalyticsEvents)
	}

	events, err := h.events.Tail(last)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/logger"
)

// AppCounter reports how many apps are registered
type AppCounter interface {
	Count(ctx context.Context) (int, error)
}

// QueueStats reports build queue occupancy
type QueueStats interface {
	Running() int
	Pending() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	apps    AppCounter
	queue   QueueStats
	domain  string
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(apps AppCounter, queue QueueStats, domain string) *HealthHandler {
	return &HealthHandler{
		apps:    apps,
		queue:   queue,
		domain:  domain,
		started: time.Now(),
	}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	count, err := h.apps.Count(c.Request.Context())
	if err != nil {
		logger.WithField("error", err.Error()).Error("Health check could not read registry")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":      false,
			"error":   "registry_unavailable",
			"message": "Failed to read registry",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"uptime":      int64(time.Since(h.started).Seconds()),
		"apps":        count,
		"queueLength": h.queue.Pending(),
		"running":     h.queue.Running(),
	})
}

// TLSCheck answers the reverse proxy's on-demand TLS question: certificates
// are only issued for direct subdomains of the platform domain
func (h *HealthHandler) TLSCheck(c *gin.Context) {
	domain := strings.ToLower(strings.TrimSuffix(c.Query("domain"), "."))
	label := strings.TrimSuffix(domain, "."+h.domain)

	if domain == "" || label == domain || label == "" || strings.Contains(label, ".") {
		c.Status(http.StatusForbidden)
		return
	}
	c.Status(http.StatusOK)
}

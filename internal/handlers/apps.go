package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/middleware"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/services"
)

// TokensHeader carries a JSON object of app name to owner secret
const TokensHeader = "X-Tokens"

// AppManager is the app side of the control plane
type AppManager interface {
	List(ctx context.Context, caller models.Caller, tokens map[string]string) ([]models.AppSummary, error)
	Remove(ctx context.Context, name string, caller models.Caller) error
	Logs(ctx context.Context, name string, lines int, caller models.Caller) (string, error)
	MarkPermanent(ctx context.Context, name string, caller models.Caller) (*models.AppRecord, error)
	Count(ctx context.Context) (int, error)
}

// AppsHandler handles app listing, removal and logs
type AppsHandler struct {
	apps AppManager
}

// NewAppsHandler creates a new apps handler
func NewAppsHandler(apps AppManager) *AppsHandler {
	return &AppsHandler{apps: apps}
}

// List handles GET /apps
func (h *AppsHandler) List(c *gin.Context) {
	var tokens map[string]string
	if raw := c.GetHeader(TokensHeader); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bad_request",
				"message": TokensHeader + " must be a JSON object of app name to token",
			})
			return
		}
	}

	caller := middleware.CallerFrom(c)
	if !caller.Admin && len(tokens) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": TokensHeader + " header or admin credential required",
		})
		return
	}

	apps, err := h.apps.List(c.Request.Context(), caller, tokens)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AppListResponse{Apps: apps})
}

// Remove handles DELETE /apps/:name
func (h *AppsHandler) Remove(c *gin.Context) {
	name := c.Param("name")
	if err := h.apps.Remove(c.Request.Context(), name, middleware.CallerFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": name})
}

// Logs handles GET /apps/:name/logs?lines=N
func (h *AppsHandler) Logs(c *gin.Context) {
	name := c.Param("name")

	lines := services.DefaultLogLines
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "bad_request",
				"message": "lines must be an integer",
			})
			return
		}
		lines = services.ClampLogLines(n)
	}

	out, err := h.apps.Logs(c.Request.Context(), name, lines, middleware.CallerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":  name,
		"lines": lines,
		"logs":  out,
	})
}

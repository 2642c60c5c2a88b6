package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/handlers"
	"github.com/imyashkale/spun/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the HTTP handlers mounted by Setup
type Handlers struct {
	Health *handlers.HealthHandler
	Deploy *handlers.DeployHandler
	Apps   *handlers.AppsHandler
	Admin  *handlers.AdminHandler
}

// Setup configures and returns the application router
func Setup(h Handlers, admin middleware.AdminConfig, httpMetrics *middleware.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {

	// Create a new Gin router
	router := gin.Default()

	// Apply CORS and request metrics globally
	router.Use(middleware.CORS())
	if httpMetrics != nil {
		router.Use(middleware.Metrics(httpMetrics))
	}

	// Probes used by the reverse proxy and monitoring
	router.GET("/health", h.Health.Check)
	router.GET("/tls-check", h.Health.TLSCheck)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/")
	api.Use(middleware.Authentication(admin))

	// Deploy routes
	deploy := api.Group("/deploy")
	{
		deploy.POST("", h.Deploy.Submit)
		deploy.GET("/:id/status", h.Deploy.Status)
	}

	// App routes
	apps := api.Group("/apps")
	{
		apps.GET("", h.Apps.List)
		apps.DELETE("/:name", h.Apps.Remove)
		apps.GET("/:name/logs", h.Apps.Logs)
	}

	// Admin routes
	adminGroup := api.Group("/admin", middleware.RequireAdmin())
	{
		adminGroup.POST("/permanent", h.Admin.MarkPermanent)
		adminGroup.GET("/analytics", h.Admin.Analytics)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Route not found",
		})
	})

	return router
}

package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/middleware"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/services"
)

const adminToken = "admin-token"

func init() {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)
}

// MockDeployer records submissions
type MockDeployer struct {
	submitted []services.SubmitRequest
	submitErr error
	statuses  map[string]models.DeployStatus
}

func (m *MockDeployer) Submit(ctx context.Context, req services.SubmitRequest) (string, error) {
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submitted = append(m.submitted, req)
	return "deploy-1", nil
}

func (m *MockDeployer) Status(deployID string) (models.DeployStatus, error) {
	st, ok := m.statuses[deployID]
	if !ok {
		return models.DeployStatus{}, services.ErrDeployNotFound
	}
	return st, nil
}

// MockApps is a fixed app set with owner secrets
type MockApps struct {
	apps     map[string]*models.AppRecord
	removed  []string
	logLines int
	countErr error
}

func (m *MockApps) authorize(name string, caller models.Caller) (*models.AppRecord, error) {
	app := m.apps[name]
	if app == nil {
		return nil, services.ErrAppNotFound
	}
	if !caller.Admin && caller.Token != app.Secret {
		return nil, services.ErrUnauthorized
	}
	return app, nil
}

func (m *MockApps) List(ctx context.Context, caller models.Caller, tokens map[string]string) ([]models.AppSummary, error) {
	out := []models.AppSummary{}
	for name, app := range m.apps {
		if caller.Admin || tokens[name] == app.Secret {
			out = append(out, models.AppSummary{Name: name, Port: app.Port})
		}
	}
	return out, nil
}

func (m *MockApps) Remove(ctx context.Context, name string, caller models.Caller) error {
	if _, err := m.authorize(name, caller); err != nil {
		return err
	}
	m.removed = append(m.removed, name)
	delete(m.apps, name)
	return nil
}

func (m *MockApps) Logs(ctx context.Context, name string, lines int, caller models.Caller) (string, error) {
	if _, err := m.authorize(name, caller); err != nil {
		return "", err
	}
	m.logLines = lines
	return "listening on 3001", nil
}

func (m *MockApps) MarkPermanent(ctx context.Context, name string, caller models.Caller) (*models.AppRecord, error) {
	if !caller.Admin {
		return nil, services.ErrUnauthorized
	}
	app := m.apps[name]
	if app == nil {
		return nil, services.ErrAppNotFound
	}
	app.Permanent = true
	app.ExpiresAt = nil
	return app, nil
}

func (m *MockApps) Count(ctx context.Context) (int, error) {
	return len(m.apps), m.countErr
}

// MockEvents returns a fixed event list
type MockEvents struct {
	events    []map[string]interface{}
	requested int
}

func (m *MockEvents) Tail(n int) ([]map[string]interface{}, error) {
	m.requested = n
	if n > len(m.events) {
		n = len(m.events)
	}
	return m.events[len(m.events)-n:], nil
}

// MockQueue reports fixed occupancy
type MockQueue struct{ running, pending int }

func (m MockQueue) Running() int { return m.running }
func (m MockQueue) Pending() int { return m.pending }

func newMockApps() *MockApps {
	return &MockApps{apps: map[string]*models.AppRecord{
		"demo":  {Port: 3001, Subdomain: "demo.spun.run", Secret: "demo-secret"},
		"other": {Port: 3002, Subdomain: "other.spun.run", Secret: "other-secret"},
	}}
}

// newTestRouter wires the handlers the same way the router does
func newTestRouter(deployer Deployer, apps AppManager, events EventReader) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Authentication(middleware.NewAdminConfig(adminToken, "")))

	health := NewHealthHandler(apps, MockQueue{running: 1, pending: 2}, "spun.run")
	deploy := NewDeployHandler(deployer, 1024)
	appsHandler := NewAppsHandler(apps)
	admin := NewAdminHandler(apps, events)

	r.GET("/health", health.Check)
	r.GET("/tls-check", health.TLSCheck)
	r.POST("/deploy", deploy.Submit)
	r.GET("/deploy/:id/status", deploy.Status)
	r.GET("/apps", appsHandler.List)
	r.DELETE("/apps/:name", appsHandler.Remove)
	r.GET("/apps/:name/logs", appsHandler.Logs)
	adminGroup := r.Group("/admin", middleware.RequireAdmin())
	adminGroup.POST("/permanent", admin.MarkPermanent)
	adminGroup.GET("/analytics", admin.Analytics)
	return r
}

func do(r http.Handler, req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

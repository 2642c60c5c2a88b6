package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/services"
)

func TestAppsHandler_List(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		tokens     string
		wantStatus int
		wantApps   int
	}{
		{name: "Admin", token: adminToken, wantStatus: http.StatusOK, wantApps: 2},
		{name: "Owner tokens", tokens: `{"demo":"demo-secret"}`, wantStatus: http.StatusOK, wantApps: 1},
		{name: "Wrong tokens", tokens: `{"demo":"nope"}`, wantStatus: http.StatusOK, wantApps: 0},
		{name: "No credentials", wantStatus: http.StatusUnauthorized},
		{name: "Malformed tokens", tokens: `not-json`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&MockDeployer{}, newMockApps(), &MockEvents{})
			req := httptest.NewRequest(http.MethodGet, "/apps", nil)
			if tt.tokens != "" {
				req.Header.Set(TokensHeader, tt.tokens)
			}
			w := do(r, req, tt.token)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if w.Code != http.StatusOK {
				return
			}
			var resp models.AppListResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Apps) != tt.wantApps {
				t.Errorf("Expected %d apps, got %d", tt.wantApps, len(resp.Apps))
			}
		})
	}
}

func TestAppsHandler_Remove(t *testing.T) {
	tests := []struct {
		name       string
		app        string
		token      string
		wantStatus int
	}{
		{name: "Owner", app: "demo", token: "demo-secret", wantStatus: http.StatusOK},
		{name: "Admin", app: "other", token: adminToken, wantStatus: http.StatusOK},
		{name: "Other owner", app: "demo", token: "other-secret", wantStatus: http.StatusForbidden},
		{name: "Anonymous", app: "demo", wantStatus: http.StatusForbidden},
		{name: "Unknown app", app: "ghost", token: adminToken, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apps := newMockApps()
			r := newTestRouter(&MockDeployer{}, apps, &MockEvents{})
			w := do(r, httptest.NewRequest(http.MethodDelete, "/apps/"+tt.app, nil), tt.token)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if w.Code == http.StatusOK {
				var body map[string]string
				json.Unmarshal(w.Body.Bytes(), &body)
				if body["removed"] != tt.app {
					t.Errorf("Expected removed=%s, got %v", tt.app, body)
				}
			} else if len(apps.removed) != 0 {
				t.Errorf("Refused removal must not remove anything")
			}
		})
	}
}

func TestAppsHandler_Logs(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		token      string
		wantStatus int
		wantLines  int
	}{
		{name: "Default lines", token: "demo-secret", wantStatus: http.StatusOK, wantLines: services.DefaultLogLines},
		{name: "Explicit lines", query: "?lines=200", token: "demo-secret", wantStatus: http.StatusOK, wantLines: 200},
		{name: "Clamped lines", query: "?lines=999999", token: adminToken, wantStatus: http.StatusOK, wantLines: services.MaxLogLines},
		{name: "Bad lines", query: "?lines=abc", token: "demo-secret", wantStatus: http.StatusBadRequest},
		{name: "Not owner", token: "other-secret", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apps := newMockApps()
			r := newTestRouter(&MockDeployer{}, apps, &MockEvents{})
			w := do(r, httptest.NewRequest(http.MethodGet, "/apps/demo/logs"+tt.query, nil), tt.token)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if w.Code == http.StatusOK && apps.logLines != tt.wantLines {
				t.Errorf("Expected %d lines requested, got %d", tt.wantLines, apps.logLines)
			}
		})
	}
}

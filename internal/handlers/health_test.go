package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler_Check(t *testing.T) {
	r := newTestRouter(&MockDeployer{}, newMockApps(), &MockEvents{})

	w := do(r, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != true || body["apps"] != float64(2) || body["queueLength"] != float64(2) || body["running"] != float64(1) {
		t.Errorf("Unexpected health body %v", body)
	}
	if _, ok := body["uptime"]; !ok {
		t.Errorf("Expected uptime in %v", body)
	}
}

func TestHealthHandler_RegistryDown(t *testing.T) {
	apps := newMockApps()
	apps.countErr = errors.New("registry unreadable")
	r := newTestRouter(&MockDeployer{}, apps, &MockEvents{})

	if w := do(r, httptest.NewRequest(http.MethodGet, "/health", nil), ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestHealthHandler_TLSCheck(t *testing.T) {
	tests := []struct {
		domain     string
		wantStatus int
	}{
		{domain: "demo.spun.run", wantStatus: http.StatusOK},
		{domain: "Demo.Spun.Run.", wantStatus: http.StatusOK},
		{domain: "spun.run", wantStatus: http.StatusForbidden},
		{domain: "a.b.spun.run", wantStatus: http.StatusForbidden},
		{domain: "demo.evil.run", wantStatus: http.StatusForbidden},
		{domain: "evilspun.run", wantStatus: http.StatusForbidden},
		{domain: "", wantStatus: http.StatusForbidden},
	}

	r := newTestRouter(&MockDeployer{}, newMockApps(), &MockEvents{})
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			w := do(r, httptest.NewRequest(http.MethodGet, "/tls-check?domain="+tt.domain, nil), "")
			if w.Code != tt.wantStatus {
				t.Errorf("Expected %d for %q, got %d", tt.wantStatus, tt.domain, w.Code)
			}
		})
	}
}

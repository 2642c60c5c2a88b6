package models

import "time"

// Process states reported in app listings
const (
	ProcessOnline  = "online"
	ProcessStopped = "stopped"
)

// AppSummary is one entry of the app listing
type AppSummary struct {
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	Port       int        `json:"port"`
	Framework  string     `json:"framework"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Permanent  bool       `json:"permanent"`
	DeployedAt time.Time  `json:"deployedAt"`
}

// AppListResponse represents the response structure for listing apps
type AppListResponse struct {
	Apps []AppSummary `json:"apps"`
}

// DeployAcceptedResponse is returned when a deploy is queued
type DeployAcceptedResponse struct {
	DeployID  string `json:"deployId"`
	Name      string `json:"name"`
	StatusURL string `json:"statusUrl"`
}

// MarkPermanentRequest is the request body for pinning an app
type MarkPermanentRequest struct {
	Name string `json:"name" binding:"required"`
}

package models

import "time"

// DeployPhase is one state of the deploy state machine
type DeployPhase string

const (
	PhaseQueued      DeployPhase = "queued"
	PhaseExtracting  DeployPhase = "extracting"
	PhaseInstalling  DeployPhase = "installing"
	PhaseBuilding    DeployPhase = "building"
	PhaseStarting    DeployPhase = "starting"
	PhaseConfiguring DeployPhase = "configuring"
	PhaseLive        DeployPhase = "live"
	PhaseFailed      DeployPhase = "failed"
)

// Terminal reports whether no further transition can happen
func (p DeployPhase) Terminal() bool {
	return p == PhaseLive || p == PhaseFailed
}

// DeployMeta is the metadata submitted alongside the source archive
type DeployMeta struct {
	Name           string
	Framework      string
	PackageManager string
	StartCommand   string
	GitCommit      string
	GitAuthor      string
}

// DeployStatus is the pollable progress of one deploy attempt
type DeployStatus struct {
	DeployID  string          `json:"deployId"`
	Name      string          `json:"name"`
	Status    DeployPhase     `json:"status"`
	URL       string          `json:"url,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Secret    string          `json:"secret,omitempty"`
	Error     string          `json:"error,omitempty"`
	Logs      []BuildLogEntry `json:"logs,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DeployResult is what a successful deploy hands back to its submitter
type DeployResult struct {
	URL       string
	ExpiresAt *time.Time
	Secret    string
	Port      int
}

// BuildLogEntry is one line of a deploy's build log
type BuildLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Phase     DeployPhase `json:"phase"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
}

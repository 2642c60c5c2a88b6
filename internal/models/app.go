package models

import "time"

// DefaultFramework is recorded when a deploy does not declare a framework
const DefaultFramework = "node"

// AppRecord is the durable state of one published app, keyed by app name in
// the Registry. A record only exists after a deploy reached live.
type AppRecord struct {
	Port           int        `json:"port" dynamodbav:"Port"`
	Framework      string     `json:"framework" dynamodbav:"Framework"`
	Subdomain      string     `json:"subdomain" dynamodbav:"Subdomain"`
	LastCommit     string     `json:"lastCommit,omitempty" dynamodbav:"LastCommit,omitempty"`
	LastDeployedBy string     `json:"lastDeployedBy,omitempty" dynamodbav:"LastDeployedBy,omitempty"`
	DeployedAt     time.Time  `json:"deployedAt" dynamodbav:"DeployedAt"`
	ExpiresAt      *time.Time `json:"expiresAt" dynamodbav:"ExpiresAt"`
	Permanent      bool       `json:"permanent" dynamodbav:"Permanent"`
	Secret         string     `json:"secret" dynamodbav:"Secret"`
}

// Expired reports whether the reaper may tear the app down at now
func (a *AppRecord) Expired(now time.Time) bool {
	if a.Permanent || a.ExpiresAt == nil {
		return false
	}
	return !a.ExpiresAt.After(now)
}

// URL returns the public https URL of the app
func (a *AppRecord) URL() string {
	if a.Subdomain == "" {
		return ""
	}
	return "https://" + a.Subdomain
}

// Registry is the whole registry document. It is always read and written as
// one unit. Version is bumped by the store on every successful write and is
// used to reject writes based on a stale read.
type Registry struct {
	Version int64                 `json:"version"`
	Apps    map[string]*AppRecord `json:"apps"`
}

// NewRegistry returns an empty registry document
func NewRegistry() *Registry {
	return &Registry{Apps: make(map[string]*AppRecord)}
}

// Clone returns a deep copy of the registry
func (r *Registry) Clone() *Registry {
	out := &Registry{Version: r.Version, Apps: make(map[string]*AppRecord, len(r.Apps))}
	for name, app := range r.Apps {
		if app == nil {
			continue
		}
		cp := *app
		if app.ExpiresAt != nil {
			exp := *app.ExpiresAt
			cp.ExpiresAt = &exp
		}
		out.Apps[name] = &cp
	}
	return out
}

package services

import "github.com/imyashkale/spun/internal/models"

// DefaultPortBase is the first port handed to an app
const DefaultPortBase = 3001

// AllocatePort returns the port for name. An app that already holds a port
// keeps it; otherwise the lowest port >= base that no record holds is chosen.
// Ports are never freed explicitly, deleting the owning record releases them.
func AllocatePort(reg *models.Registry, name string, base int) int {
	if base <= 0 {
		base = DefaultPortBase
	}

	if app, ok := reg.Apps[name]; ok && app != nil && app.Port > 0 {
		return app.Port
	}

	used := make(map[int]struct{}, len(reg.Apps))
	for _, app := range reg.Apps {
		if app != nil && app.Port > 0 {
			used[app.Port] = struct{}{}
		}
	}

	port := base
	for {
		if _, taken := used[port]; !taken {
			return port
		}
		port++
	}
}

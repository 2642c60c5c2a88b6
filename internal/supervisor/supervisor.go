package supervisor

import (
	"context"
	"time"
)

// Process states as reported by the supervisor
const (
	StatusOnline  = "online"
	StatusStopped = "stopped"
	StatusErrored = "errored"
)

// Process is one supervised app process
type Process struct {
	Name     string
	Status   string
	PID      int
	Restarts int
}

// Crashed reports whether the supervisor gave up on the process
func (p Process) Crashed() bool {
	return p.Status == StatusErrored || p.Status == StatusStopped
}

// StartOptions describes how to launch an app
type StartOptions struct {
	Name         string
	Command      string
	Dir          string
	Port         int
	Env          []string
	MaxRestarts  int
	RestartDelay time.Duration
}

// Supervisor runs app processes and restarts them when they exit
type Supervisor interface {
	// Start launches the app under supervision
	Start(ctx context.Context, opts StartOptions) error
	// Stop removes the app from supervision; an unknown app is not an error
	Stop(ctx context.Context, name string) error
	// Save persists the process list so it survives a supervisor restart
	Save(ctx context.Context) error
	IsRunning(ctx context.Context, name string) (bool, error)
	IsCrashed(ctx context.Context, name string) (bool, error)
	// List returns every supervised process keyed by name
	List(ctx context.Context) (map[string]Process, error)
	// Logs returns the last lines of the app's output
	Logs(ctx context.Context, name string, lines int) (string, error)
}

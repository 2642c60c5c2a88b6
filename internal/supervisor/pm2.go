package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/shell"
	"golang.org/x/sync/singleflight"
)

const (
	pm2Timeout     = 30 * time.Second
	pm2LogsTimeout = 5 * time.Second
)

// PM2 supervises apps through the pm2 command line
type PM2 struct {
	runner shell.Runner
	binary string
	group  singleflight.Group
}

// NewPM2 creates a pm2 backed supervisor
func NewPM2(runner shell.Runner) *PM2 {
	return &PM2{runner: runner, binary: "pm2"}
}

// jlistEntry is the subset of `pm2 jlist` output we read
type jlistEntry struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status      string `json:"status"`
		RestartTime int    `json:"restart_time"`
	} `json:"pm2_env"`
}

// Start runs `pm2 start` in the app directory with PORT set
func (p *PM2) Start(ctx context.Context, opts StartOptions) error {
	args := []string{"start", opts.Command, "--name", opts.Name}
	if opts.MaxRestarts > 0 {
		args = append(args, "--max-restarts", strconv.Itoa(opts.MaxRestarts))
	}
	if opts.RestartDelay > 0 {
		args = append(args, "--restart-delay", strconv.FormatInt(opts.RestartDelay.Milliseconds(), 10))
	}

	_, err := p.runner.Run(ctx, shell.Command{
		Name:    p.binary,
		Args:    args,
		Dir:     opts.Dir,
		Env:     append(append([]string(nil), opts.Env...), fmt.Sprintf("PORT=%d", opts.Port)),
		Timeout: pm2Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.Name, err)
	}

	logger.WithFields(map[string]interface{}{
		"app":     opts.Name,
		"command": opts.Command,
		"port":    opts.Port,
	}).Info("Process started")
	return nil
}

// Stop deletes the process from pm2 when it exists
func (p *PM2) Stop(ctx context.Context, name string) error {
	procs, err := p.List(ctx)
	if err != nil {
		return err
	}
	if _, ok := procs[name]; !ok {
		return nil
	}

	if _, err := p.runner.Run(ctx, shell.Command{
		Name:    p.binary,
		Args:    []string{"delete", name},
		Timeout: pm2Timeout,
	}); err != nil {
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}

	logger.WithField("app", name).Info("Process stopped")
	return nil
}

// Save dumps the current process list
func (p *PM2) Save(ctx context.Context) error {
	_, err := p.runner.Run(ctx, shell.Command{
		Name:    p.binary,
		Args:    []string{"save"},
		Timeout: pm2Timeout,
	})
	return err
}

// IsRunning reports whether the app is online
func (p *PM2) IsRunning(ctx context.Context, name string) (bool, error) {
	procs, err := p.List(ctx)
	if err != nil {
		return false, err
	}
	proc, ok := procs[name]
	return ok && proc.Status == StatusOnline, nil
}

// IsCrashed reports whether pm2 gave up on the app or no longer knows it
func (p *PM2) IsCrashed(ctx context.Context, name string) (bool, error) {
	procs, err := p.List(ctx)
	if err != nil {
		return false, err
	}
	proc, ok := procs[name]
	return !ok || proc.Crashed(), nil
}

// List parses `pm2 jlist`. Concurrent callers share one invocation.
func (p *PM2) List(ctx context.Context) (map[string]Process, error) {
	v, err, _ := p.group.Do("jlist", func() (interface{}, error) {
		out, err := p.runner.Run(ctx, shell.Command{
			Name:    p.binary,
			Args:    []string{"jlist"},
			Timeout: pm2Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list processes: %w", err)
		}
		return parseJList(out)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]Process), nil
}

// Logs returns recent output without following
func (p *PM2) Logs(ctx context.Context, name string, lines int) (string, error) {
	out, err := p.runner.Run(ctx, shell.Command{
		Name:    p.binary,
		Args:    []string{"logs", name, "--nostream", "--lines", strconv.Itoa(lines)},
		Timeout: pm2LogsTimeout,
	})
	if err != nil {
		return string(out), fmt.Errorf("failed to read logs for %s: %w", name, err)
	}
	return string(out), nil
}

func parseJList(out []byte) (map[string]Process, error) {
	procs := make(map[string]Process)
	// pm2 may print update notices ahead of the JSON array
	if i := bytes.IndexByte(out, '['); i > 0 {
		out = out[i:]
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return procs, nil
	}

	var entries []jlistEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse pm2 jlist: %w", err)
	}
	for _, e := range entries {
		procs[e.Name] = Process{
			Name:     e.Name,
			Status:   e.PM2Env.Status,
			PID:      e.PID,
			Restarts: e.PM2Env.RestartTime,
		}
	}
	return procs, nil
}

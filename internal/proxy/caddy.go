package proxy

import (
	"context"
	"time"

	"github.com/imyashkale/spun/internal/shell"
)

const caddyCommandTimeout = 30 * time.Second

// CaddyCLI drives a local Caddy server through its command line
type CaddyCLI struct {
	runner shell.Runner
	binary string
}

// NewCaddyCLI creates a ReverseProxy backed by the caddy binary
func NewCaddyCLI(runner shell.Runner) *CaddyCLI {
	return &CaddyCLI{runner: runner, binary: "caddy"}
}

// Validate checks the config without applying it
func (c *CaddyCLI) Validate(ctx context.Context, configPath string) error {
	_, err := c.runner.Run(ctx, shell.Command{
		Name:    c.binary,
		Args:    []string{"validate", "--config", configPath},
		Timeout: caddyCommandTimeout,
	})
	return err
}

// Reload applies the config to the running server without downtime
func (c *CaddyCLI) Reload(ctx context.Context, configPath string) error {
	_, err := c.runner.Run(ctx, shell.Command{
		Name:    c.binary,
		Args:    []string{"reload", "--config", configPath},
		Timeout: caddyCommandTimeout,
	})
	return err
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/imyashkale/spun/internal/logger"
)

// ReverseProxy validates and hot-reloads the live proxy from its config file
type ReverseProxy interface {
	Validate(ctx context.Context, configPath string) error
	Reload(ctx context.Context, configPath string) error
}

// Configurator owns the proxy config file. All edits go through it so
// writers inside this process never interleave.
type Configurator struct {
	path   string
	domain string
	proxy  ReverseProxy
	mu     sync.Mutex
}

// NewConfigurator creates a configurator for the config file at path
func NewConfigurator(path, domain string, proxy ReverseProxy) *Configurator {
	return &Configurator{
		path:   path,
		domain: domain,
		proxy:  proxy,
	}
}

// Host returns the public host for an app name
func (c *Configurator) Host(name string) string {
	return Subdomain(name, c.domain)
}

// Configure routes the app's host to port, persists the file and reloads the
// proxy. Every failure is returned, including validate and reload; in that
// case the previous file content is put back.
func (c *Configurator) Configure(ctx context.Context, name string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	host := c.Host(name)
	doc, mode, err := c.read()
	if err != nil {
		return err
	}

	updated, err := UpsertAppBlock(doc, host, port)
	if err != nil {
		return fmt.Errorf("failed to update proxy config for %s: %w", host, err)
	}
	if updated != doc {
		if err := os.WriteFile(c.path, []byte(updated), mode); err != nil {
			return fmt.Errorf("failed to write proxy config: %w", err)
		}
	}

	if err := c.apply(ctx); err != nil {
		if updated != doc {
			if restoreErr := os.WriteFile(c.path, []byte(doc), mode); restoreErr != nil {
				logger.WithFields(map[string]interface{}{
					"app":   name,
					"error": restoreErr.Error(),
				}).Error("Failed to restore proxy config")
			}
		}
		return err
	}

	logger.WithFields(map[string]interface{}{
		"app":  name,
		"host": host,
		"port": port,
	}).Info("Proxy route configured")
	return nil
}

// Remove drops the app's block. File errors are returned; validate and
// reload failures are logged and swallowed since removal is best-effort.
func (c *Configurator) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	host := c.Host(name)
	doc, mode, err := c.read()
	if err != nil {
		return err
	}

	updated, err := RemoveAppBlock(doc, host)
	if err != nil {
		return fmt.Errorf("failed to update proxy config for %s: %w", host, err)
	}
	if updated == doc {
		return nil
	}
	if err := os.WriteFile(c.path, []byte(updated), mode); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}

	if err := c.apply(ctx); err != nil {
		logger.WithFields(map[string]interface{}{
			"app":   name,
			"host":  host,
			"error": err.Error(),
		}).Warn("Proxy reload after route removal failed")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"app":  name,
		"host": host,
	}).Info("Proxy route removed")
	return nil
}

// Route returns the app's current block text, or "" when it has no route
func (c *Configurator) Route(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, _, err := c.read()
	if err != nil {
		return "", err
	}
	return AppBlock(doc, c.Host(name))
}

// Restore puts back a block captured by Route. An empty block removes the
// route. Validate and reload failures are returned.
func (c *Configurator) Restore(ctx context.Context, name, block string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	host := c.Host(name)
	doc, mode, err := c.read()
	if err != nil {
		return err
	}

	var updated string
	if block == "" {
		updated, err = RemoveAppBlock(doc, host)
	} else {
		updated, err = ReplaceAppBlock(doc, host, block)
	}
	if err != nil {
		return fmt.Errorf("failed to update proxy config for %s: %w", host, err)
	}
	if updated == doc {
		return nil
	}
	if err := os.WriteFile(c.path, []byte(updated), mode); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}
	if err := c.apply(ctx); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"app":  name,
		"host": host,
	}).Info("Proxy route restored")
	return nil
}

func (c *Configurator) apply(ctx context.Context) error {
	if err := c.proxy.Validate(ctx, c.path); err != nil {
		return fmt.Errorf("proxy config validation failed: %w", err)
	}
	if err := c.proxy.Reload(ctx, c.path); err != nil {
		return fmt.Errorf("proxy reload failed: %w", err)
	}
	return nil
}

// read returns the config and its file mode; a missing file is empty
func (c *Configurator) read() (string, fs.FileMode, error) {
	info, err := os.Stat(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0o644, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat proxy config: %w", err)
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read proxy config: %w", err)
	}
	return string(data), info.Mode().Perm(), nil
}

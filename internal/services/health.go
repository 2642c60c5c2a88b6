package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/imyashkale/spun/internal/supervisor"
)

// HealthCheckConfig bounds the startup probe of a freshly started app
type HealthCheckConfig struct {
	Attempts int
	Timeout  time.Duration
	Interval time.Duration
	Host     string
}

// DefaultHealthCheckConfig gives an app roughly ten seconds to answer
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Attempts: 10,
		Timeout:  2 * time.Second,
		Interval: time.Second,
		Host:     "127.0.0.1",
	}
}

// HealthChecker waits until an app answers HTTP on its port
type HealthChecker struct {
	cfg    HealthCheckConfig
	client *http.Client
	sup    supervisor.Supervisor
}

// NewHealthChecker creates a checker that also watches the supervisor so a
// crashed process fails fast
func NewHealthChecker(cfg HealthCheckConfig, sup supervisor.Supervisor) *HealthChecker {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &HealthChecker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sup:    sup,
	}
}

// Wait probes the app until any HTTP response arrives. It returns
// ErrProcessCrashed when the supervisor reports the process dead and
// ErrHealthCheckFailed once the attempts are used up.
func (h *HealthChecker) Wait(ctx context.Context, name string, port int) error {
	url := fmt.Sprintf("http://%s:%d/", h.cfg.Host, port)
	attempts := 0

	operation := func() error {
		attempts++
		if crashed, err := h.sup.IsCrashed(ctx, name); err == nil && crashed {
			return backoff.Permanent(ErrProcessCrashed)
		}
		return h.probe(ctx, url)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(h.cfg.Interval), uint64(h.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ErrProcessCrashed) {
			return err
		}
		return fmt.Errorf("%w: no response on port %d after %d attempts: %v", ErrHealthCheckFailed, port, attempts, err)
	}
	return nil
}

func (h *HealthChecker) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

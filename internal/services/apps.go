package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/repository"
	"github.com/imyashkale/spun/internal/supervisor"
	"github.com/imyashkale/spun/internal/workspace"
)

// Log line bounds for app log requests
const (
	DefaultLogLines = 50
	MaxLogLines     = 5000
)

// AppService answers queries about published apps and tears them down
type AppService struct {
	registry   *repository.LockedRegistry
	locks      *AppLocks
	proxy      ProxyConfigurator
	supervisor supervisor.Supervisor
	workspace  *workspace.Manager
	events     *EventLog
	metrics    *Metrics
}

// NewAppService creates a new app service
func NewAppService(
	registry *repository.LockedRegistry,
	locks *AppLocks,
	proxy ProxyConfigurator,
	sup supervisor.Supervisor,
	ws *workspace.Manager,
	events *EventLog,
	metrics *Metrics,
) *AppService {
	return &AppService{
		registry:   registry,
		locks:      locks,
		proxy:      proxy,
		supervisor: sup,
		workspace:  ws,
		events:     events,
		metrics:    metrics,
	}
}

// List returns the apps visible to the caller, sorted by name. Admins see
// every app; everyone else sees the apps whose secret they hold in tokens.
func (s *AppService) List(ctx context.Context, caller models.Caller, tokens map[string]string) ([]models.AppSummary, error) {
	reg, err := s.registry.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	procs, err := s.supervisor.List(ctx)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Process list unavailable, reporting apps as stopped")
		procs = map[string]supervisor.Process{}
	}

	apps := make([]models.AppSummary, 0, len(reg.Apps))
	for name, app := range reg.Apps {
		if app == nil {
			continue
		}
		if !caller.Admin && (tokens[name] == "" || tokens[name] != app.Secret) {
			continue
		}

		status := models.ProcessStopped
		if proc, ok := procs[name]; ok && proc.Status != "" {
			status = proc.Status
		}
		framework := app.Framework
		if framework == "" {
			framework = models.DefaultFramework
		}

		apps = append(apps, models.AppSummary{
			Name:       name,
			URL:        app.URL(),
			Port:       app.Port,
			Framework:  framework,
			Status:     status,
			ExpiresAt:  app.ExpiresAt,
			Permanent:  app.Permanent,
			DeployedAt: app.DeployedAt,
		})
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return apps, nil
}

// Authorize returns the app when the caller is its owner or an admin
func (s *AppService) Authorize(ctx context.Context, name string, caller models.Caller) (*models.AppRecord, error) {
	reg, err := s.registry.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	app := reg.Apps[name]
	if app == nil {
		return nil, ErrAppNotFound
	}
	if caller.Admin || (caller.Token != "" && caller.Token == app.Secret) {
		return app, nil
	}
	return nil, ErrUnauthorized
}

// Remove tears the app down and deletes its record
func (s *AppService) Remove(ctx context.Context, name string, caller models.Caller) error {
	unlock, err := s.locks.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.Authorize(ctx, name, caller); err != nil {
		return err
	}

	if err := s.Teardown(ctx, name); err != nil {
		logger.WithFields(map[string]interface{}{
			"app":   name,
			"error": err.Error(),
		}).Warn("Teardown finished with errors")
	}

	err = s.registry.Update(ctx, func(reg *models.Registry) (bool, error) {
		if _, ok := reg.Apps[name]; !ok {
			return false, nil
		}
		delete(reg.Apps, name)
		return true, nil
	})
	if err != nil {
		return err
	}

	s.events.Record(EventRemoved, map[string]interface{}{"app": name, "admin": caller.Admin})
	s.metrics.AppRemoved("removed")
	logger.WithField("app", name).Info("App removed")
	return nil
}

// Teardown stops the process, deletes the app directory and removes the
// proxy route. Every step runs even when an earlier one fails; the failures
// are returned together. The registry is not touched. Callers hold the app's
// lock.
func (s *AppService) Teardown(ctx context.Context, name string) error {
	var merr *multierror.Error

	if err := s.supervisor.Stop(ctx, name); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("stop process: %w", err))
	} else if err := s.supervisor.Save(ctx); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("save process list: %w", err))
	}

	if err := s.workspace.Remove(name); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("remove app directory: %w", err))
	}

	if err := s.proxy.Remove(ctx, name); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("remove proxy route: %w", err))
	}

	return merr.ErrorOrNil()
}

// MarkPermanent exempts an app from expiry. Admin only.
func (s *AppService) MarkPermanent(ctx context.Context, name string, caller models.Caller) (*models.AppRecord, error) {
	if !caller.Admin {
		return nil, ErrUnauthorized
	}

	var updated *models.AppRecord
	err := s.registry.Update(ctx, func(reg *models.Registry) (bool, error) {
		app := reg.Apps[name]
		if app == nil {
			return false, ErrAppNotFound
		}
		updated = app
		if app.Permanent && app.ExpiresAt == nil {
			return false, nil
		}
		app.Permanent = true
		app.ExpiresAt = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("app", name).Info("App marked permanent")
	return updated, nil
}

// Logs returns the most recent output of the app's process
func (s *AppService) Logs(ctx context.Context, name string, lines int, caller models.Caller) (string, error) {
	if _, err := s.Authorize(ctx, name, caller); err != nil {
		return "", err
	}
	return s.supervisor.Logs(ctx, name, ClampLogLines(lines))
}

// Count returns the number of registered apps
func (s *AppService) Count(ctx context.Context) (int, error) {
	reg, err := s.registry.Read(ctx)
	if err != nil {
		return 0, err
	}
	return len(reg.Apps), nil
}

// ClampLogLines bounds a requested line count; zero or less means default
func ClampLogLines(lines int) int {
	switch {
	case lines <= 0:
		return DefaultLogLines
	case lines > MaxLogLines:
		return MaxLogLines
	default:
		return lines
	}
}

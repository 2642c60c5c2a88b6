package services

import (
	"context"
	"time"

	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/repository"
)

// Reaper tears down apps whose time to live has passed
type Reaper struct {
	registry *repository.LockedRegistry
	apps     *AppService
	interval time.Duration
	events   *EventLog
	metrics  *Metrics
	now      func() time.Time
}

// NewReaper creates a reaper sweeping every interval
func NewReaper(registry *repository.LockedRegistry, apps *AppService, interval time.Duration, events *EventLog, metrics *Metrics) *Reaper {
	return &Reaper{
		registry: registry,
		apps:     apps,
		interval: interval,
		events:   events,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is done
func (r *Reaper) Run(ctx context.Context) {
	logger.WithField("interval", r.interval.String()).Info("Expiry reaper started")

	r.sweepAndLog(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Expiry reaper stopped")
			return
		case <-ticker.C:
			r.sweepAndLog(ctx)
		}
	}
}

func (r *Reaper) sweepAndLog(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil {
		logger.WithField("error", err.Error()).Error("Expiry sweep failed")
	}
}

// Sweep removes every expired, non-permanent app and returns their names.
// Apps with a deploy or removal in progress are left for the next sweep.
// Expiry is checked again under each app's lock before anything is torn
// down. The registry is written once, and only when something expired.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	reg, err := r.registry.Read(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	var candidates []string
	for name, app := range reg.Apps {
		if app != nil && app.Expired(now) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var held []string
	for _, name := range candidates {
		unlock, ok := r.apps.locks.TryLock(name)
		if !ok {
			logger.WithField("app", name).Info("Skipping expiry, app is busy")
			continue
		}
		defer unlock()
		held = append(held, name)
	}
	if len(held) == 0 {
		return nil, nil
	}

	// a redeploy may have refreshed a record since the snapshot
	current, err := r.registry.Read(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, name := range held {
		if app := current.Apps[name]; app != nil && app.Expired(now) {
			expired = append(expired, name)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}

	for _, name := range expired {
		logger.WithField("app", name).Info("Expiring app")
		if err := r.apps.Teardown(ctx, name); err != nil {
			logger.WithFields(map[string]interface{}{
				"app":   name,
				"error": err.Error(),
			}).Warn("Teardown finished with errors")
		}
	}

	var removed []string
	err = r.registry.Update(ctx, func(reg *models.Registry) (bool, error) {
		for _, name := range expired {
			if app := reg.Apps[name]; app != nil && app.Expired(now) {
				delete(reg.Apps, name)
				removed = append(removed, name)
			}
		}
		return len(removed) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	for _, name := range removed {
		r.events.Record(EventExpired, map[string]interface{}{"app": name})
		r.metrics.AppRemoved("expired")
	}
	return removed, nil
}

package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/imyashkale/spun/internal/archive"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/repository"
	"github.com/imyashkale/spun/internal/shell"
	"github.com/imyashkale/spun/internal/storage"
	"github.com/imyashkale/spun/internal/supervisor"
	"github.com/imyashkale/spun/internal/workspace"
)

// Supervisor restart policy for app processes
const (
	maxRestarts  = 3
	restartDelay = 5 * time.Second
)

// ErrPortConflict is returned when the allocated port was claimed by another
// app before the deploy could register
var ErrPortConflict = errors.New("port already registered to another app")

// ProxyConfigurator routes public hosts to local ports
type ProxyConfigurator interface {
	Configure(ctx context.Context, name string, port int) error
	Remove(ctx context.Context, name string) error
	Route(name string) (string, error)
	Restore(ctx context.Context, name, block string) error
	Host(name string) string
}

// HealthProber waits for a started app to answer
type HealthProber interface {
	Wait(ctx context.Context, name string, port int) error
}

// PipelineConfig holds the deploy limits
type PipelineConfig struct {
	PortBase       int
	AppTTL         time.Duration
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
}

// DeployRequest is one admitted deploy
type DeployRequest struct {
	DeployID string
	Archive  []byte
	Meta     models.DeployMeta
}

// PipelineService runs the deploy phases for one request at a time per call
type PipelineService struct {
	registry   *repository.LockedRegistry
	locks      *AppLocks
	proxy      ProxyConfigurator
	supervisor supervisor.Supervisor
	extractor  archive.Extractor
	workspace  *workspace.Manager
	runner     shell.Runner
	health     HealthProber
	archives   storage.ArchiveStore
	statuses   *StatusStore
	events     *EventLog
	metrics    *Metrics
	cfg        PipelineConfig
	now        func() time.Time

	portMu   sync.Mutex
	reserved map[string]portReservation
}

type portReservation struct {
	name string
	port int
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	registry *repository.LockedRegistry,
	locks *AppLocks,
	proxy ProxyConfigurator,
	sup supervisor.Supervisor,
	extractor archive.Extractor,
	ws *workspace.Manager,
	runner shell.Runner,
	health HealthProber,
	archives storage.ArchiveStore,
	statuses *StatusStore,
	events *EventLog,
	metrics *Metrics,
	cfg PipelineConfig,
) *PipelineService {
	if archives == nil {
		archives = storage.NopArchiveStore{}
	}
	return &PipelineService{
		registry:   registry,
		locks:      locks,
		proxy:      proxy,
		supervisor: sup,
		extractor:  extractor,
		workspace:  ws,
		runner:     runner,
		health:     health,
		archives:   archives,
		statuses:   statuses,
		events:     events,
		metrics:    metrics,
		cfg:        cfg,
		now:        time.Now,
		reserved:   make(map[string]portReservation),
	}
}

// deployRun is the state of one Execute call
type deployRun struct {
	req        *DeployRequest
	pm         string
	dir        string
	manifest   *Manifest
	port       int
	started    bool
	configured bool
	prevRoute  string
	logger     *BuildLogger
	phase      models.DeployPhase
	phaseStart time.Time
}

func (r *deployRun) name() string {
	return r.req.Meta.Name
}

// Execute drives one deploy from extraction to live. On failure the status
// is failed with a diagnostic, the app directory is removed and the registry
// is left untouched. Deploys of the same name run one at a time and never
// overlap a removal or expiry of that name.
func (ps *PipelineService) Execute(ctx context.Context, req *DeployRequest) (result *models.DeployResult, err error) {
	run := &deployRun{req: req, logger: NewBuildLogger()}
	started := ps.now()
	defer ps.releasePort(req.DeployID)

	unlock, lockErr := ps.locks.Lock(ctx, req.Meta.Name)
	if lockErr == nil {
		defer unlock()
	}

	defer func() {
		if err != nil {
			ps.fail(ctx, run, err, started)
		}
	}()

	if lockErr != nil {
		return nil, lockErr
	}

	if run.pm, err = NormalizePackageManager(req.Meta.PackageManager); err != nil {
		return nil, err
	}

	// Phase 1: Extract
	if err = ps.stageExtract(ctx, run); err != nil {
		return nil, err
	}

	// Phase 2: Install
	if err = ps.stageInstall(ctx, run); err != nil {
		return nil, err
	}

	// Phase 3: Build
	if err = ps.stageBuild(ctx, run); err != nil {
		return nil, err
	}

	// Phase 4: Start and wait for health
	if err = ps.stageStart(ctx, run); err != nil {
		return nil, err
	}

	// Phase 5: Configure proxy
	if err = ps.stageConfigure(ctx, run); err != nil {
		return nil, err
	}

	// Phase 6: Register
	result, err = ps.stageRegister(ctx, run)
	if err != nil {
		return nil, err
	}

	ps.enterPhase(run, models.PhaseLive)
	ps.statuses.Set(models.DeployStatus{
		DeployID:  req.DeployID,
		Name:      run.name(),
		Status:    models.PhaseLive,
		URL:       result.URL,
		ExpiresAt: result.ExpiresAt,
		Secret:    result.Secret,
		Logs:      run.logger.GetLogsWithSizeLimit(),
	})

	duration := ps.now().Sub(started)
	ps.events.Record(EventLive, map[string]interface{}{
		"deploy_id":   req.DeployID,
		"app":         run.name(),
		"port":        result.Port,
		"duration_ms": duration.Milliseconds(),
	})
	ps.metrics.DeployFinished(string(models.PhaseLive))
	logger.WithFields(map[string]interface{}{
		"deploy_id": req.DeployID,
		"app":       run.name(),
		"url":       result.URL,
		"port":      result.Port,
		"duration":  duration.String(),
	}).Info("Deploy live")

	return result, nil
}

// stageExtract replaces the app directory with the archive contents
func (ps *PipelineService) stageExtract(ctx context.Context, run *deployRun) error {
	ps.enterPhase(run, models.PhaseExtracting)
	name := run.name()

	meta := map[string]string{"commit": run.req.Meta.GitCommit, "author": run.req.Meta.GitAuthor}
	if err := ps.archives.Put(ctx, name, run.req.DeployID, run.req.Archive, meta); err != nil {
		run.logger.LogWarning(run.phase, fmt.Sprintf("Archive retention failed: %v", err))
	}

	if err := ps.supervisor.Stop(ctx, name); err != nil {
		run.logger.LogWarning(run.phase, fmt.Sprintf("Could not stop previous process: %v", err))
	}

	dir, err := ps.workspace.Prepare(name)
	if err != nil {
		run.logger.LogError(run.phase, fmt.Sprintf("Failed to prepare app directory: %v", err))
		return err
	}
	run.dir = dir

	if err := ps.extractor.Extract(ctx, bytes.NewReader(run.req.Archive), dir); err != nil {
		run.logger.LogError(run.phase, fmt.Sprintf("Extraction failed: %v", err))
		return fmt.Errorf("extraction failed: %w", err)
	}
	run.logger.LogInfo(run.phase, fmt.Sprintf("Extracted %d bytes to %s", len(run.req.Archive), dir))

	manifest, err := LoadManifest(dir)
	if err != nil {
		run.logger.LogError(run.phase, err.Error())
		return err
	}
	if manifest != nil {
		run.logger.LogInfo(run.phase, fmt.Sprintf("%s loaded with %d env vars", ManifestFile, len(manifest.Env)))
	}
	run.manifest = manifest
	return nil
}

// stageInstall installs dependencies
func (ps *PipelineService) stageInstall(ctx context.Context, run *deployRun) error {
	ps.enterPhase(run, models.PhaseInstalling)

	cmd := InstallCommand(run.pm, run.dir, ps.cfg.InstallTimeout)
	run.logger.LogInfo(run.phase, "Running "+cmd.String())
	out, err := ps.runner.Run(ctx, cmd)
	run.logger.LogOutput(run.phase, out)
	if err != nil {
		run.logger.LogError(run.phase, fmt.Sprintf("Install failed: %v", err))
		return err
	}
	return nil
}

// stageBuild runs the build script when the project declares one
func (ps *PipelineService) stageBuild(ctx context.Context, run *deployRun) error {
	ps.enterPhase(run, models.PhaseBuilding)

	if !HasScript(run.dir, "build") {
		run.logger.LogInfo(run.phase, "No build script, skipping")
		return nil
	}

	cmd := BuildCommand(run.pm, run.dir, run.manifest.Environ(), ps.cfg.BuildTimeout)
	run.logger.LogInfo(run.phase, "Running "+cmd.String())
	out, err := ps.runner.Run(ctx, cmd)
	run.logger.LogOutput(run.phase, out)
	if err != nil {
		run.logger.LogError(run.phase, fmt.Sprintf("Build failed: %v", err))
		return err
	}
	return nil
}

// stageStart launches the app under the supervisor and waits for it to answer
func (ps *PipelineService) stageStart(ctx context.Context, run *deployRun) error {
	ps.enterPhase(run, models.PhaseStarting)
	name := run.name()

	port, err := ps.reservePort(ctx, run.req.DeployID, name)
	if err != nil {
		return err
	}
	run.port = port

	declared := run.req.Meta.StartCommand
	if declared == "" {
		declared = run.manifest.StartCommand()
	}
	command := ResolveStartCommand(run.dir, declared, run.pm)
	run.logger.LogInfo(run.phase, fmt.Sprintf("Starting %q on port %d", command, port))

	if err := ps.supervisor.Start(ctx, supervisor.StartOptions{
		Name:         name,
		Command:      command,
		Dir:          run.dir,
		Port:         port,
		Env:          run.manifest.Environ(),
		MaxRestarts:  maxRestarts,
		RestartDelay: restartDelay,
	}); err != nil {
		run.logger.LogError(run.phase, fmt.Sprintf("Start failed: %v", err))
		return err
	}
	run.started = true

	if err := ps.supervisor.Save(ctx); err != nil {
		run.logger.LogError(run.phase, fmt.Sprintf("Saving process list failed: %v", err))
		return err
	}

	if err := ps.health.Wait(ctx, name, port); err != nil {
		run.logger.LogError(run.phase, err.Error())
		if stopErr := ps.supervisor.Stop(ctx, name); stopErr != nil {
			run.logger.LogWarning(run.phase, fmt.Sprintf("Stopping unhealthy process failed: %v", stopErr))
		} else {
			run.started = false
		}
		return err
	}
	run.logger.LogInfo(run.phase, fmt.Sprintf("App answered on port %d", port))
	return nil
}

// stageConfigure publishes the app through the reverse proxy
func (ps *PipelineService) stageConfigure(ctx context.Context, run *deployRun) error {
	ps.enterPhase(run, models.PhaseConfiguring)

	prev, err := ps.proxy.Route(run.name())
	if err != nil {
		run.logger.LogError(run.phase, err.Error())
		return err
	}
	if err := ps.proxy.Configure(ctx, run.name(), run.port); err != nil {
		run.logger.LogError(run.phase, err.Error())
		return err
	}
	run.configured = true
	run.prevRoute = prev
	run.logger.LogInfo(run.phase, fmt.Sprintf("Routed %s to port %d", ps.proxy.Host(run.name()), run.port))
	return nil
}

// stageRegister writes the finished record. This is the only registry write
// of a deploy.
func (ps *PipelineService) stageRegister(ctx context.Context, run *deployRun) (*models.DeployResult, error) {
	name := run.name()
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	var record *models.AppRecord
	err = ps.registry.Update(ctx, func(reg *models.Registry) (bool, error) {
		for other, app := range reg.Apps {
			if other != name && app != nil && app.Port == run.port {
				return false, fmt.Errorf("%w: %d held by %s", ErrPortConflict, run.port, other)
			}
		}

		now := ps.now().UTC()
		record = &models.AppRecord{
			Port:           run.port,
			Framework:      run.req.Meta.Framework,
			Subdomain:      ps.proxy.Host(name),
			LastCommit:     run.req.Meta.GitCommit,
			LastDeployedBy: run.req.Meta.GitAuthor,
			DeployedAt:     now,
			Secret:         secret,
		}
		if record.Framework == "" {
			record.Framework = models.DefaultFramework
		}
		if existing := reg.Apps[name]; existing != nil && existing.Permanent {
			record.Permanent = true
		} else {
			expires := now.Add(ps.cfg.AppTTL)
			record.ExpiresAt = &expires
		}

		reg.Apps[name] = record
		return true, nil
	})
	if err != nil {
		run.logger.LogError(models.PhaseConfiguring, fmt.Sprintf("Registering app failed: %v", err))
		return nil, err
	}

	return &models.DeployResult{
		URL:       record.URL(),
		ExpiresAt: record.ExpiresAt,
		Secret:    record.Secret,
		Port:      record.Port,
	}, nil
}

// enterPhase closes the timing of the previous phase and publishes the new one
func (ps *PipelineService) enterPhase(run *deployRun, phase models.DeployPhase) {
	now := ps.now()
	if run.phase != "" {
		ps.metrics.ObservePhase(string(run.phase), now.Sub(run.phaseStart))
	}
	run.phase = phase
	run.phaseStart = now

	if phase.Terminal() {
		return
	}
	ps.statuses.Set(models.DeployStatus{
		DeployID: run.req.DeployID,
		Name:     run.name(),
		Status:   phase,
		Logs:     run.logger.GetLogsWithSizeLimit(),
	})
	logger.WithFields(map[string]interface{}{
		"deploy_id": run.req.DeployID,
		"app":       run.name(),
		"phase":     phase,
	}).Info("Deploy phase started")
}

// fail records the failure, puts back the proxy route it replaced and
// removes whatever the deploy left on disk
func (ps *PipelineService) fail(ctx context.Context, run *deployRun, cause error, started time.Time) {
	diagnostic := Diagnostic(cause)
	failedPhase := run.phase
	name := run.name()

	if run.configured {
		if err := ps.proxy.Restore(ctx, name, run.prevRoute); err != nil {
			run.logger.LogWarning(failedPhase, fmt.Sprintf("Restoring proxy route failed: %v", err))
		}
	}
	if run.started {
		if err := ps.supervisor.Stop(ctx, name); err != nil {
			run.logger.LogWarning(failedPhase, fmt.Sprintf("Stopping process failed: %v", err))
		}
	}
	if run.dir != "" {
		if err := ps.workspace.Remove(name); err != nil {
			run.logger.LogWarning(failedPhase, fmt.Sprintf("Removing app directory failed: %v", err))
		}
	}

	ps.enterPhase(run, models.PhaseFailed)
	ps.statuses.Set(models.DeployStatus{
		DeployID: run.req.DeployID,
		Name:     name,
		Status:   models.PhaseFailed,
		Error:    diagnostic,
		Logs:     run.logger.GetLogsWithSizeLimit(),
	})

	ps.events.Record(EventFailed, map[string]interface{}{
		"deploy_id":   run.req.DeployID,
		"app":         name,
		"phase":       failedPhase,
		"error":       diagnostic,
		"duration_ms": ps.now().Sub(started).Milliseconds(),
	})
	ps.metrics.DeployFinished(string(models.PhaseFailed))
	logger.WithFields(map[string]interface{}{
		"deploy_id": run.req.DeployID,
		"app":       name,
		"phase":     failedPhase,
		"error":     cause.Error(),
	}).Error("Deploy failed")
}

// reservePort allocates a port that no registered app and no other in-flight
// deploy holds
func (ps *PipelineService) reservePort(ctx context.Context, deployID, name string) (int, error) {
	reg, err := ps.registry.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read registry: %w", err)
	}

	ps.portMu.Lock()
	defer ps.portMu.Unlock()

	view := reg.Clone()
	for id, res := range ps.reserved {
		if id == deployID || res.name == name {
			continue
		}
		if _, ok := view.Apps[res.name]; !ok {
			view.Apps[res.name] = &models.AppRecord{Port: res.port}
		}
	}

	port := AllocatePort(view, name, ps.cfg.PortBase)
	ps.reserved[deployID] = portReservation{name: name, port: port}
	return port, nil
}

func (ps *PipelineService) releasePort(deployID string) {
	ps.portMu.Lock()
	defer ps.portMu.Unlock()
	delete(ps.reserved, deployID)
}

// newSecret returns 16 random bytes, hex encoded
func newSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

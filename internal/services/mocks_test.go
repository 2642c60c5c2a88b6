package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/proxy"
	"github.com/imyashkale/spun/internal/queue"
	"github.com/imyashkale/spun/internal/repository"
	"github.com/imyashkale/spun/internal/shell"
	"github.com/imyashkale/spun/internal/supervisor"
	"github.com/imyashkale/spun/internal/workspace"
)

const testDomain = "spun.run"

// MockSupervisor keeps processes in memory
type MockSupervisor struct {
	mu       sync.Mutex
	procs    map[string]supervisor.Process
	started  []supervisor.StartOptions
	stopped  []string
	saves    int
	startErr error
	stopErr  error
	listErr  error
	crashOn  map[string]bool
	logs     map[string]string
}

func NewMockSupervisor() *MockSupervisor {
	return &MockSupervisor{
		procs:   map[string]supervisor.Process{},
		crashOn: map[string]bool{},
		logs:    map[string]string{},
	}
}

func (m *MockSupervisor) Start(ctx context.Context, opts supervisor.StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, opts)
	status := supervisor.StatusOnline
	if m.crashOn[opts.Name] {
		status = supervisor.StatusErrored
	}
	m.procs[opts.Name] = supervisor.Process{Name: opts.Name, Status: status}
	return nil
}

func (m *MockSupervisor) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	if _, ok := m.procs[name]; ok {
		m.stopped = append(m.stopped, name)
		delete(m.procs, name)
	}
	return nil
}

func (m *MockSupervisor) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

func (m *MockSupervisor) IsRunning(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[name]
	return ok && p.Status == supervisor.StatusOnline, nil
}

func (m *MockSupervisor) IsCrashed(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[name]
	return !ok || p.Crashed(), nil
}

func (m *MockSupervisor) List(ctx context.Context) (map[string]supervisor.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make(map[string]supervisor.Process, len(m.procs))
	for k, v := range m.procs {
		out[k] = v
	}
	return out, nil
}

func (m *MockSupervisor) Logs(ctx context.Context, name string, lines int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[name], nil
}

func (m *MockSupervisor) running(name string) bool {
	ok, _ := m.IsRunning(context.Background(), name)
	return ok
}

// MockRunner records commands and fails the ones whose text contains a key
// of failures
type MockRunner struct {
	mu       sync.Mutex
	commands []shell.Command
	failures map[string]error
	outputs  map[string]string
}

func NewMockRunner() *MockRunner {
	return &MockRunner{failures: map[string]error{}, outputs: map[string]string{}}
}

func (m *MockRunner) Run(ctx context.Context, cmd shell.Command) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	text := cmd.String()
	for key, err := range m.failures {
		if strings.Contains(text, key) {
			out := []byte(m.outputs[key])
			return out, &shell.ExitError{Command: text, Output: out, Err: err}
		}
	}
	return nil, nil
}

func (m *MockRunner) ran(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commands {
		if strings.Contains(c.String(), substr) {
			return true
		}
	}
	return false
}

// MockExtractor writes a fixed file set into the destination
type MockExtractor struct {
	files map[string]string
	err   error
}

func (m *MockExtractor) Extract(ctx context.Context, r io.Reader, dest string) error {
	if m.err != nil {
		return m.err
	}
	for name, body := range m.files {
		path := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// MockProber answers health checks, optionally running a hook first
type MockProber struct {
	err  error
	hook func(name string, port int)
}

func (m *MockProber) Wait(ctx context.Context, name string, port int) error {
	if m.hook != nil {
		m.hook(name, port)
	}
	return m.err
}

// MockReverseProxy fails validation on demand
type MockReverseProxy struct {
	mu          sync.Mutex
	validateErr error
}

func (m *MockReverseProxy) Validate(ctx context.Context, configPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateErr
}

func (m *MockReverseProxy) Reload(ctx context.Context, configPath string) error {
	return nil
}

// HookedRegistryRepository fails writes on demand and can run a hook once,
// right after the next read returns
type HookedRegistryRepository struct {
	repository.RegistryRepository
	mu        sync.Mutex
	writeErr  error
	afterRead func()
}

func (r *HookedRegistryRepository) Read(ctx context.Context) (*models.Registry, error) {
	reg, err := r.RegistryRepository.Read(ctx)
	r.mu.Lock()
	hook := r.afterRead
	r.afterRead = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return reg, err
}

func (r *HookedRegistryRepository) onNextRead(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterRead = fn
}

func (r *HookedRegistryRepository) Write(ctx context.Context, reg *models.Registry) error {
	r.mu.Lock()
	err := r.writeErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.RegistryRepository.Write(ctx, reg)
}

func (r *HookedRegistryRepository) failWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

// testEnv wires real registry, proxy configurator and workspace on temp
// storage with fake external processes
type testEnv struct {
	t            *testing.T
	registryRepo *HookedRegistryRepository
	registry     *repository.LockedRegistry
	locks        *AppLocks
	caddyfile    string
	reverseProxy *MockReverseProxy
	proxy        *proxy.Configurator
	workspace    *workspace.Manager
	supervisor   *MockSupervisor
	runner       *MockRunner
	extractor    *MockExtractor
	prober       *MockProber
	statuses     *StatusStore
	events       *EventLog
	pipeline     *PipelineService
	apps         *AppService
}

const nextAppPackageJSON = `{"name":"demo","scripts":{"build":"next build","start":"next start"}}`

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.SetOutput(io.Discard)

	root := t.TempDir()
	env := &testEnv{t: t}
	env.registryRepo = &HookedRegistryRepository{
		RegistryRepository: repository.NewFileRegistryRepository(filepath.Join(root, "registry.json")),
	}
	env.registry = repository.NewLockedRegistry(env.registryRepo)

	env.caddyfile = filepath.Join(root, "Caddyfile")
	if err := os.WriteFile(env.caddyfile, []byte("api.spun.run {\n\treverse_proxy localhost:3100\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env.reverseProxy = &MockReverseProxy{}
	env.proxy = proxy.NewConfigurator(env.caddyfile, testDomain, env.reverseProxy)

	ws, err := workspace.New(filepath.Join(root, "apps"))
	if err != nil {
		t.Fatal(err)
	}
	env.workspace = ws
	env.supervisor = NewMockSupervisor()
	env.runner = NewMockRunner()
	env.extractor = &MockExtractor{files: map[string]string{
		"package.json":               nextAppPackageJSON,
		".next/standalone/server.js": "require('http').createServer().listen(process.env.PORT)",
	}}
	env.prober = &MockProber{}
	env.statuses = NewStatusStore(time.Hour)
	env.events = NewEventLog(filepath.Join(root, "deploys.jsonl"))

	env.locks = NewAppLocks()
	env.pipeline = NewPipelineService(
		env.registry,
		env.locks,
		env.proxy,
		env.supervisor,
		env.extractor,
		env.workspace,
		env.runner,
		env.prober,
		nil,
		env.statuses,
		env.events,
		nil,
		PipelineConfig{
			PortBase:       DefaultPortBase,
			AppTTL:         24 * time.Hour,
			InstallTimeout: time.Minute,
			BuildTimeout:   time.Minute,
		},
	)
	env.apps = NewAppService(env.registry, env.locks, env.proxy, env.supervisor, env.workspace, env.events, nil)
	return env
}

func (e *testEnv) seed(apps map[string]*models.AppRecord) {
	e.t.Helper()
	err := e.registry.Update(context.Background(), func(reg *models.Registry) (bool, error) {
		for name, app := range apps {
			reg.Apps[name] = app
		}
		return true, nil
	})
	if err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) snapshot() *models.Registry {
	e.t.Helper()
	reg, err := e.registry.Read(context.Background())
	if err != nil {
		e.t.Fatal(err)
	}
	return reg
}

func (e *testEnv) caddyConfig() string {
	e.t.Helper()
	data, err := os.ReadFile(e.caddyfile)
	if err != nil {
		e.t.Fatal(err)
	}
	return string(data)
}

func (e *testEnv) deployService(q JobSubmitter) *DeployService {
	return NewDeployService(e.registry, q, e.pipeline, e.statuses, e.events, nil, 10<<20)
}

func (e *testEnv) request(name string) *DeployRequest {
	return &DeployRequest{
		DeployID: "deploy-" + name,
		Archive:  []byte("tarball"),
		Meta:     models.DeployMeta{Name: name, Framework: "nextjs", GitCommit: "abc1234", GitAuthor: "dev@example.com"},
	}
}

// waitForStatus polls until the deploy reaches a terminal phase
func waitForStatus(t *testing.T, statuses *StatusStore, deployID string) models.DeployStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := statuses.Get(deployID); ok && st.Status.Terminal() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("deploy %s did not finish", deployID)
	return models.DeployStatus{}
}

// RejectingQueue refuses every job
type RejectingQueue struct{ err error }

func (q RejectingQueue) Submit(job *queue.BuildJob) (<-chan queue.Result, error) {
	return nil, q.err
}

var errBoom = errors.New("boom")

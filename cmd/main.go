package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imyashkale/spun/internal/archive"
	"github.com/imyashkale/spun/internal/config"
	"github.com/imyashkale/spun/internal/database"
	"github.com/imyashkale/spun/internal/handlers"
	"github.com/imyashkale/spun/internal/logger"
	"github.com/imyashkale/spun/internal/middleware"
	"github.com/imyashkale/spun/internal/proxy"
	"github.com/imyashkale/spun/internal/queue"
	"github.com/imyashkale/spun/internal/repository"
	"github.com/imyashkale/spun/internal/router"
	"github.com/imyashkale/spun/internal/services"
	"github.com/imyashkale/spun/internal/shell"
	"github.com/imyashkale/spun/internal/storage"
	"github.com/imyashkale/spun/internal/supervisor"
	"github.com/imyashkale/spun/internal/workspace"
	"github.com/prometheus/client_golang/prometheus"
)

// extractedSizeFactor bounds the unpacked size relative to the upload limit
const extractedSizeFactor = 100

func main() {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load application configuration
	cfg := config.New()
	logger.Init(cfg.GetLogLevel())
	logger.Info("Configuration loaded successfully")

	// Initialize registry backend
	registryRepo := newRegistryRepository(ctx, cfg)
	registry := repository.NewLockedRegistry(registryRepo)

	// External process capabilities
	runner := shell.NewExecRunner()
	proxyConfigurator := proxy.NewConfigurator(cfg.CaddyfilePath, cfg.Domain, proxy.NewCaddyCLI(runner))
	pm2 := supervisor.NewPM2(runner)
	extractor := archive.NewTarGz(cfg.MaxArchiveBytes * extractedSizeFactor)

	ws, err := workspace.New(cfg.AppsDir)
	if err != nil {
		logger.Fatalf("Failed to prepare apps directory: %v", err)
	}
	logger.WithField("apps_dir", ws.Root()).Info("Workspace ready")

	healthChecker := services.NewHealthChecker(services.DefaultHealthCheckConfig(), pm2)
	statuses := services.NewStatusStore(cfg.StatusTTL)
	events := services.NewEventLog(cfg.EventLogPath)
	metrics := services.NewMetrics(prometheus.DefaultRegisterer)

	// Optional archive retention
	var archives storage.ArchiveStore = storage.NopArchiveStore{}
	if cfg.ArchiveBucket != "" {
		s3Store, err := storage.NewS3ArchiveStore(ctx, cfg.AWSRegion, cfg.ArchiveBucket)
		if err != nil {
			logger.Fatalf("Failed to initialize archive store: %v", err)
		}
		archives = s3Store
		logger.WithField("bucket", cfg.ArchiveBucket).Info("Archive retention enabled")
	}

	// Initialize pipeline service
	appLocks := services.NewAppLocks()
	pipelineService := services.NewPipelineService(
		registry,
		appLocks,
		proxyConfigurator,
		pm2,
		extractor,
		ws,
		runner,
		healthChecker,
		archives,
		statuses,
		events,
		metrics,
		services.PipelineConfig{
			PortBase:       cfg.PortBase,
			AppTTL:         cfg.AppTTL,
			InstallTimeout: cfg.InstallTimeout,
			BuildTimeout:   cfg.BuildTimeout,
		},
	)

	// Initialize build queue
	buildQueue := queue.NewBuildQueue(cfg.QueueConcurrency, cfg.QueueBacklog)
	buildQueue.SetObserver(metrics.SetQueue)
	logger.WithFields(map[string]interface{}{
		"concurrency": cfg.QueueConcurrency,
		"backlog":     cfg.QueueBacklog,
	}).Info("Build queue initialized")

	deployService := services.NewDeployService(registry, buildQueue, pipelineService, statuses, events, metrics, cfg.MaxArchiveBytes)
	appService := services.NewAppService(registry, appLocks, proxyConfigurator, pm2, ws, events, metrics)

	// Start the expiry reaper
	reaper := services.NewReaper(registry, appService, cfg.ReapInterval, events, metrics)
	go reaper.Run(ctx)

	if !cfg.HasAdmin() {
		logger.Warn("No admin credential configured, admin routes are unreachable")
	}

	// Setup router
	r := router.Setup(
		router.Handlers{
			Health: handlers.NewHealthHandler(appService, buildQueue, cfg.Domain),
			Deploy: handlers.NewDeployHandler(deployService, cfg.MaxArchiveBytes),
			Apps:   handlers.NewAppsHandler(appService),
			Admin:  handlers.NewAdminHandler(appService, events),
		},
		middleware.NewAdminConfig(cfg.AdminToken, cfg.AdminJWTSigningKey),
		middleware.NewHTTPMetrics(prometheus.DefaultRegisterer),
		prometheus.DefaultGatherer,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.GetPort(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down server gracefully...")

		// Stop the reaper and refuse new deploys
		cancel()
		buildQueue.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP shutdown failed: %v", err)
		}

		logger.Info("Waiting for running deploys to finish...")
		buildQueue.Wait()
		logger.Info("All deploys finished")
	}()

	// Start server
	logger.Infof("Starting server on :%s", cfg.GetPort())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Failed to start server: %v", err)
	}
	<-done
}

// newRegistryRepository selects the registry backend from configuration
func newRegistryRepository(ctx context.Context, cfg *config.Config) repository.RegistryRepository {
	if cfg.RegistryBackend != config.RegistryBackendDynamoDB {
		logger.WithField("path", cfg.RegistryPath).Info("Using file registry")
		return repository.NewFileRegistryRepository(cfg.RegistryPath)
	}

	dbConfig := database.NewConfig(cfg)
	logger.WithFields(map[string]interface{}{
		"table":  dbConfig.TableName,
		"region": dbConfig.Region,
	}).Info("Initializing DynamoDB registry")

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Fatalf("Failed to initialize DynamoDB client: %v", err)
	}
	return repository.NewDynamoRegistryRepository(database.NewRegistryOperations(dbClient, dbClient.TableName))
}

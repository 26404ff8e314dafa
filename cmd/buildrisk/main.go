// Command buildrisk is the platform's worker/orchestrator process: it wires
// the Task Runtime (C1), Scenario Orchestrator (C4), and Scan Dispatcher
// (C7) into four Temporal worker pools (the general task queue plus the
// scenario_processing, sonar_scan and trivy_scan queues of §4.1), plus the
// Prometheus status endpoint (§2 ambient stack).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/antigravity-dev/buildrisk/internal/config"
	"github.com/antigravity-dev/buildrisk/internal/featuredag"
	"github.com/antigravity-dev/buildrisk/internal/ingestion"
	"github.com/antigravity-dev/buildrisk/internal/metrics"
	"github.com/antigravity-dev/buildrisk/internal/orchestrator"
	"github.com/antigravity-dev/buildrisk/internal/scandispatch"
	"github.com/antigravity-dev/buildrisk/internal/store"
	"github.com/antigravity-dev/buildrisk/internal/taskrt"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildProviders resolves one ingestion.CIProvider per configured entry.
// A provider backed by rate_limits.redis_addr draws its initial token from
// the shared credential pool instead of the static config value, so the
// pool's round-robin/cooldown bookkeeping is exercised even though
// GitHubActionsClient itself holds a single token for its lifetime (full
// per-request rotation would mean threading a token resolver through
// CIProvider, left as a follow-on).
func buildProviders(cfg *config.Config, logger *slog.Logger) map[string]ingestion.CIProvider {
	var rdb redis.Cmdable
	if cfg.RateLimits.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RateLimits.RedisAddr})
	}

	providers := make(map[string]ingestion.CIProvider, len(cfg.Providers))
	for configKey, p := range cfg.Providers {
		token := p.Token
		if rdb != nil && token != "" {
			pool := ingestion.NewCredentialPool(rdb, configKey, []string{token}, int64(cfg.RateLimits.TokensPerProvider), cfg.RateLimits.CooldownOnExhausted.Duration)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			acquired, err := pool.Acquire(ctx)
			cancel()
			if err != nil {
				logger.Warn("credential pool acquire failed, using static token", "provider", configKey, "error", err)
			} else {
				token = acquired
			}
		}

		// RawRepository.Provider (and thus RepoGroup.Provider) carries the
		// provider *kind* (e.g. "github_actions"), not the TOML table key,
		// so that's what Activities.provider looks clients up by.
		kind := strings.ToLower(p.Name)
		if kind == "" {
			kind = configKey
		}
		switch kind {
		case "github_actions":
			providers[kind] = ingestion.NewGitHubActionsClient(token)
		default:
			logger.Warn("unrecognized provider kind, skipping", "provider", configKey, "kind", p.Name)
		}
	}
	return providers
}

func main() {
	configPath := flag.String("config", "buildrisk.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("buildrisk starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger = configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	for _, root := range []string{cfg.Storage.ReposRoot(), cfg.Storage.WorktreesRoot(), cfg.Storage.LogsRoot(), cfg.Storage.ScanConfigRoot(), cfg.Storage.ScenariosRoot()} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			logger.Error("failed to create storage root", "root", root, "error", err)
			os.Exit(1)
		}
	}

	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	resultStorePath := filepath.Join(filepath.Dir(dbPath), "chord-results.db")
	results, err := taskrt.OpenResultStore(resultStorePath)
	if err != nil {
		logger.Error("failed to open result store", "path", resultStorePath, "error", err)
		os.Exit(1)
	}
	defer results.Close()

	registry, err := featuredag.NewRegistry(featuredag.SeedNodes())
	if err != nil {
		logger.Error("failed to build feature registry", "error", err)
		os.Exit(1)
	}
	featuredag.SetGlobal(registry)

	rt, err := taskrt.NewRuntime(cfg.General.TemporalHostPort)
	if err != nil {
		logger.Error("failed to dial temporal", "host_port", cfg.General.TemporalHostPort, "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	roots := orchestrator.Roots{
		ReposRoot:      cfg.Storage.ReposRoot(),
		WorktreesRoot:  cfg.Storage.WorktreesRoot(),
		LogsRoot:       cfg.Storage.LogsRoot(),
		ScanConfigRoot: cfg.Storage.ScanConfigRoot(),
		ScenariosRoot:  cfg.Storage.ScenariosRoot(),
	}
	providers := buildProviders(cfg, logger)
	locks := ingestion.NewRepoLock(filepath.Join(roots.ReposRoot, ".locks"))
	scanOpts := &scandispatch.Options{
		BatchSize:       cfg.ScanTools.BatchSize,
		InterBatchDelay: cfg.ScanTools.InterBatchDelay.Duration,
	}

	activities := &orchestrator.Activities{
		Store:              st,
		Roots:              roots,
		Locks:              locks,
		Providers:          providers,
		Results:            results,
		ScanDispatch:       scanOpts,
		Dispatcher:         rt,
		FeatureRegistry:    registry,
		ExpiredLogStreak:   cfg.ScanTools.ExpiredLogStreak,
		MaxLogFileBytes:    cfg.ScanTools.MaxLogFileBytes,
		ExtractionPoolSize: cfg.General.IntraNodePoolSize,
	}

	api := &orchestrator.API{
		Store:     st,
		Client:    rt.Client(),
		Roots:     roots,
		Dispatch:  rt,
		TaskQueue: cfg.General.TaskQueue,
	}

	var wg sync.WaitGroup
	runWorker := func(name string, w *taskrt.Worker) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("worker starting", "queue", name)
			if err := w.Run(); err != nil {
				logger.Error("worker stopped with error", "queue", name, "error", err)
			}
		}()
	}

	// Main worker: every top-level workflow the orchestrator API starts
	// directly, plus every named activity those workflows execute inline
	// (not re-dispatched to a separate queue).
	mainWorker := taskrt.NewWorker(rt.Client(), cfg.General.TaskQueue)
	mainWorker.RegisterWorkflow(orchestrator.ScenarioWorkflow)
	mainWorker.RegisterWorkflow(orchestrator.ProcessingWorkflow)
	mainWorker.RegisterWorkflow(orchestrator.ReingestMissingResourceWorkflow)
	mainWorker.RegisterNamedActivity(orchestrator.TaskFilterScenario, activities.FilterScenarioActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskGroupIngestionByRepo, activities.GroupIngestionByRepoActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskCloneRepo, activities.CloneRepoActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskCreateWorktrees, activities.WorktreesActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskDownloadLogs, activities.LogsActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskAggregateIngestion, activities.AggregateIngestionActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskResetMissingResource, activities.ResetMissingResourceActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskPrepareProcessing, activities.PrepareProcessingActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskProcessBuild, activities.ProcessBuildActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskDispatchScan, activities.DispatchScanActivity)
	mainWorker.RegisterNamedActivity(orchestrator.TaskFinalizeProcessing, activities.FinalizeProcessingActivity)
	runWorker(cfg.General.TaskQueue, mainWorker)

	// split_scenario is dispatched as its own task onto the configured
	// scenario_processing queue (FinalizeProcessingActivity's hand-off),
	// distinct from the workflow that called FinalizeProcessingActivity —
	// it needs its own worker on that queue.
	splitWorker := taskrt.NewWorker(rt.Client(), cfg.Queues.ScenarioProcessing)
	splitWorker.RegisterNamedActivity(orchestrator.TaskSplitScenario, activities.SplitScenarioActivity)
	runWorker(cfg.Queues.ScenarioProcessing, splitWorker)

	// Scan workers are optional: a missing/unreachable Docker daemon means
	// scan extraction is simply unavailable for this process, not fatal to
	// the rest of the pipeline (scenarios with no enabled scan tools never
	// touch these queues at all).
	if runner, err := scandispatch.NewDockerRunner(); err != nil {
		logger.Warn("docker unavailable, scan workers disabled", "error", err)
	} else {
		scanActivities := &scandispatch.ScanActivities{
			Store:      st,
			Runner:     runner,
			IDFunc:     uuid.NewString,
			SonarImage: cfg.ScanTools.SonarImage,
			TrivyImage: cfg.ScanTools.TrivyImage,
		}

		sonarWorker := taskrt.NewWorker(rt.Client(), cfg.Queues.SonarScan)
		sonarWorker.RegisterNamedActivity(scandispatch.ToolSonar.TaskName(), scanActivities.StartSonarScanActivity)
		runWorker(cfg.Queues.SonarScan, sonarWorker)

		trivyWorker := taskrt.NewWorker(rt.Client(), cfg.Queues.TrivyScan)
		trivyWorker.RegisterNamedActivity(scandispatch.ToolTrivy.TaskName(), scanActivities.StartTrivyScanActivity)
		runWorker(cfg.Queues.TrivyScan, trivyWorker)
	}

	// One retry sweeper per scenario still in `processing` at startup — the
	// only phase that can have an outstanding Sonar webhook in flight.
	sweepers := startRetrySweepers(st, api, cfg, logger)
	defer func() {
		for _, s := range sweepers {
			<-s.Stop().Done()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	httpSrv := &http.Server{Addr: cfg.API.Bind, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", "bind", cfg.API.Bind)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("buildrisk running",
		"task_queue", cfg.General.TaskQueue,
		"scenario_processing_queue", cfg.Queues.ScenarioProcessing,
		"metrics_bind", cfg.API.Bind,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	shutdownStart := time.Now()
	logger.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	wg.Wait()
	logger.Info("buildrisk stopped", "shutdown_duration", time.Since(shutdownStart).String())
}

// startRetrySweepers bootstraps scandispatch.RetrySweepers for every
// scenario whose scan phase may already be underway, so a process restart
// doesn't strand pending Sonar webhooks until the next manual retry.
func startRetrySweepers(st *store.Store, api *orchestrator.API, cfg *config.Config, logger *slog.Logger) []*scandispatch.RetrySweeper {
	scenarios, err := st.ListScenariosByStatus("processing")
	if err != nil {
		logger.Warn("failed to list processing scenarios for retry sweep bootstrap", "error", err)
		return nil
	}

	cronExpr := "@every " + cfg.General.ScanRetrySweep.Duration.String()
	var sweepers []*scandispatch.RetrySweeper
	for _, sc := range scenarios {
		sweeper, err := api.NewRetrySweeper(sc.ID, cronExpr, cfg.General.StuckScenarioAfter.Duration)
		if err != nil {
			logger.Warn("failed to build retry sweeper", "scenario_id", sc.ID, "error", err)
			continue
		}
		sweeper.Start()
		sweepers = append(sweepers, sweeper)
	}
	return sweepers
}

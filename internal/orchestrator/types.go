// Package orchestrator is the single owner of every scenario-level state
// transition (C4): it drives a Scenario through filter, ingest, process, and
// split, composing the Task Runtime/Graph Composer (C1/C2), Resource DAG
// (C3), Ingestion Workers (C5), Feature DAG Engine (C6), Scan Dispatcher
// (C7), and Splitter/Exporter (C8) into one pipeline.
package orchestrator

import (
	"github.com/antigravity-dev/buildrisk/internal/featuredag"
	"github.com/antigravity-dev/buildrisk/internal/ingestion"
	"github.com/antigravity-dev/buildrisk/internal/scandispatch"
	"github.com/antigravity-dev/buildrisk/internal/store"
	"github.com/antigravity-dev/buildrisk/internal/taskrt"
)

// Named activities/tasks the orchestrator dispatches via taskrt's generic
// RunTaskWorkflow. The process's general task-queue worker registers these
// against an *Activities instance's methods, except split_scenario, which the
// scenario_processing queue's worker registers.
const (
	TaskFilterScenario     = "filter_scenario"
	TaskCloneRepo          = "clone_repo"
	TaskCreateWorktrees    = "create_worktrees_batch"
	TaskDownloadLogs       = "download_build_logs"
	TaskAggregateIngestion = "aggregate_ingestion"
	TaskProcessBuild       = "process_build"
	TaskFinalizeProcessing = "finalize_processing"
	TaskSplitScenario      = "split_scenario"
)

// Roots bundles the on-disk layout (§6) the orchestrator's activities read
// from and write under.
type Roots struct {
	ReposRoot      string
	WorktreesRoot  string
	LogsRoot       string
	ScanConfigRoot string
	ScenariosRoot  string
}

// Activities bundles every dependency the orchestrator's named activities
// need. A single instance is registered once per worker process; methods
// are stateless with respect to any one invocation beyond what's threaded
// through their payload.
type Activities struct {
	Store           *store.Store
	Roots           Roots
	Locks           *ingestion.RepoLock
	Providers       map[string]ingestion.CIProvider
	Results         *taskrt.ResultStore
	ScanDispatch    *scandispatch.Options
	Dispatcher      scandispatch.TaskDispatcher
	FeatureRegistry *featuredag.Registry
	AllowReplay        bool
	ExpiredLogStreak   int
	MaxLogFileBytes    int64
	ExtractionPoolSize int
}

func (a *Activities) provider(name string) ingestion.CIProvider {
	return a.Providers[name]
}

// expandFeatures resolves a Scenario's declared dag_features patterns
// against the process-wide feature registry (§4.6 step 1: "Expand
// wildcards against the registry").
func (a *Activities) expandFeatures(patterns []string) ([]string, error) {
	reg := a.FeatureRegistry
	if reg == nil {
		reg = featuredag.Global()
	}
	return reg.Expand(patterns)
}

// StartScenarioGenerationRequest is ScenarioWorkflow's input (§4.4).
type StartScenarioGenerationRequest struct {
	ScenarioID string
}

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/scandispatch"
	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

// inFlightStatuses are the Scenario states §4.4's concurrency guard rejects
// a second generation dispatch against.
var inFlightStatuses = map[string]bool{
	"filtering": true, "ingesting": true, "processing": true, "splitting": true,
}

// API is the thin internal surface an HTTP layer (or CLI) drives a
// scenario's lifecycle through (§6 "Orchestrator API"). It owns no state of
// its own beyond the store and Temporal client: every durable transition
// still happens inside the workflows and activities this wraps.
type API struct {
	Store   *store.Store
	Client  client.Client
	Roots   Roots
	Dispatch scandispatch.TaskDispatcher
	TaskQueue string // Temporal task queue scenario workflows are started on
}

// CreateScenario validates the YAML, rejects a duplicate name, and persists
// a new Scenario in `queued` status.
func (api *API) CreateScenario(name, yaml string) (string, error) {
	if name == "" {
		return "", pipelineerr.New(pipelineerr.KindConfiguration, "create_scenario", fmt.Errorf("name is required"))
	}
	if existing, err := api.Store.GetScenarioByName(name); err != nil {
		return "", pipelineerr.New(pipelineerr.KindFatal, "create_scenario", err)
	} else if existing != nil {
		return "", pipelineerr.New(pipelineerr.KindConflict, "create_scenario", fmt.Errorf("scenario named %q already exists", name))
	}

	doc, err := scenario.Parse(yaml)
	if err != nil {
		return "", err
	}

	id := "scenario-" + uuid.NewString()
	if err := api.Store.CreateScenario(store.Scenario{
		ID: id, Name: name, YAML: yaml, SplitStrategy: doc.Splitting.Strategy, Status: "queued",
	}); err != nil {
		return "", pipelineerr.New(pipelineerr.KindFatal, "create_scenario", err)
	}
	return id, nil
}

// UpdateScenario re-validates and replaces a Scenario's YAML. Per §6, a
// change resets status to `queued`; the update is rejected outright while
// the scenario is mid-pipeline.
func (api *API) UpdateScenario(id, yaml string) error {
	sc, err := api.Store.GetScenario(id)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "update_scenario", err)
	}
	if sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "update_scenario", fmt.Errorf("scenario %s not found", id))
	}
	if inFlightStatuses[sc.Status] {
		return pipelineerr.New(pipelineerr.KindConflict, "update_scenario", fmt.Errorf("scenario %s is %q", id, sc.Status))
	}

	doc, err := scenario.Parse(yaml)
	if err != nil {
		return err
	}
	return api.Store.UpdateScenario(id, map[string]any{
		"yaml": yaml, "split_strategy": doc.Splitting.Strategy, "status": "queued", "failure_reason": "",
	})
}

// DeleteScenario cascades the Scenario's DB rows (store.DeleteScenario) and
// removes its on-disk footprint: the scenario's config/splits directory and
// its scan-config materialisations. Ingested repos/worktrees/logs are left
// alone — §5 shares those by identity across scenarios.
func (api *API) DeleteScenario(id string) error {
	sc, err := api.Store.GetScenario(id)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "delete_scenario", err)
	}
	if sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "delete_scenario", fmt.Errorf("scenario %s not found", id))
	}
	if err := api.Store.DeleteScenario(id); err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "delete_scenario", err)
	}
	if api.Roots.ScenariosRoot != "" {
		_ = os.RemoveAll(filepath.Join(api.Roots.ScenariosRoot, id))
	}
	if api.Roots.ScanConfigRoot != "" {
		_ = os.RemoveAll(filepath.Join(api.Roots.ScanConfigRoot, id))
	}
	return nil
}

// StartScenarioGeneration starts ScenarioWorkflow (Phase 1+2), rejecting an
// in-flight scenario with an application-level conflict (§4.4 closing
// paragraph, §8 idempotence property).
func (api *API) StartScenarioGeneration(ctx context.Context, id string) error {
	sc, err := api.Store.GetScenario(id)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "start_scenario_generation", err)
	}
	if sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "start_scenario_generation", fmt.Errorf("scenario %s not found", id))
	}
	if inFlightStatuses[sc.Status] {
		return pipelineerr.New(pipelineerr.KindConflict, "start_scenario_generation", fmt.Errorf("scenario %s is already %q", id, sc.Status))
	}

	ok, err := api.Store.TransitionScenario(id, sc.Status, "filtering")
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "start_scenario_generation", err)
	}
	if !ok {
		// Lost the race to a concurrent caller; report the same conflict
		// they'd see if they'd called first (§8: duplicate dispatch rejected).
		return pipelineerr.New(pipelineerr.KindConflict, "start_scenario_generation", fmt.Errorf("scenario %s is already starting", id))
	}

	_, err = api.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID: "scenario-generation-" + id, TaskQueue: api.TaskQueue,
	}, ScenarioWorkflow, StartScenarioGenerationRequest{ScenarioID: id})
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "start_scenario_generation", fmt.Errorf("dispatch: %w", err))
	}
	return nil
}

// StartProcessing starts ProcessingWorkflow (Phase 3); only valid from the
// `ingested` state (enforced again inside PrepareProcessingActivity itself).
func (api *API) StartProcessing(ctx context.Context, id string) error {
	sc, err := api.Store.GetScenario(id)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "start_processing", err)
	}
	if sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "start_processing", fmt.Errorf("scenario %s not found", id))
	}
	if sc.Status != "ingested" {
		return pipelineerr.New(pipelineerr.KindConflict, "start_processing", fmt.Errorf("scenario %s is %q, not ingested", id, sc.Status))
	}

	_, err = api.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID: "scenario-processing-" + id, TaskQueue: api.TaskQueue,
	}, ProcessingWorkflow, StartProcessingRequest{ScenarioID: id})
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "start_processing", fmt.Errorf("dispatch: %w", err))
	}
	return nil
}

// GetScenarioSplits returns the scenario's most recently recorded
// DatasetSplit (one row covers every non-empty partition from a single
// Phase 4 run), or nil if Phase 4 hasn't completed yet.
func (api *API) GetScenarioSplits(id string) (*store.DatasetSplit, error) {
	d, err := api.Store.GetLatestDatasetSplit(id)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindFatal, "get_scenario_splits", err)
	}
	return d, nil
}

// DownloadSplitFile resolves the on-disk path for one partition ("train",
// "validation", or "test") of a scenario's most recent split.
func (api *API) DownloadSplitFile(id, splitType string) (string, error) {
	d, err := api.Store.GetLatestDatasetSplit(id)
	if err != nil {
		return "", pipelineerr.New(pipelineerr.KindFatal, "download_split_file", err)
	}
	if d == nil {
		return "", pipelineerr.New(pipelineerr.KindNotFound, "download_split_file", fmt.Errorf("scenario %s has no dataset split", id))
	}
	var path string
	switch splitType {
	case "train":
		path = d.TrainPath
	case "validation":
		path = d.ValPath
	case "test":
		path = d.TestPath
	default:
		return "", pipelineerr.New(pipelineerr.KindConfiguration, "download_split_file", fmt.Errorf("unknown split_type %q", splitType))
	}
	if path == "" {
		return "", pipelineerr.New(pipelineerr.KindNotFound, "download_split_file", fmt.Errorf("scenario %s has no %s partition", id, splitType))
	}
	return path, nil
}

// ReingestMissingResource starts ReingestMissingResourceWorkflow, the retry
// entry point for IngestionBuilds stuck in `missing_resource` (§4.4).
func (api *API) ReingestMissingResource(ctx context.Context, id string) error {
	sc, err := api.Store.GetScenario(id)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "reingest_missing_resource", err)
	}
	if sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "reingest_missing_resource", fmt.Errorf("scenario %s not found", id))
	}

	_, err = api.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID: "reingest-missing-resource-" + id + "-" + uuid.NewString()[:8], TaskQueue: api.TaskQueue,
	}, ReingestMissingResourceWorkflow, ReingestMissingResourceRequest{ScenarioID: id})
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "reingest_missing_resource", fmt.Errorf("dispatch: %w", err))
	}
	return nil
}

// RetryCommitScan resolves the (repository, commit) pair a scenario's
// ingested builds carry for commitSHA and redispatches that tool's scan via
// scandispatch.RetryCommitScan (§4.7 retry surface).
func (api *API) RetryCommitScan(ctx context.Context, id, commitSHA string, tool scandispatch.Tool) error {
	repositoryID, err := api.resolveRepositoryForCommit(id, commitSHA)
	if err != nil {
		return err
	}
	if repositoryID == "" {
		return pipelineerr.New(pipelineerr.KindNotFound, "retry_commit_scan",
			fmt.Errorf("scenario %s: no ingested build at commit %s", id, commitSHA))
	}
	return scandispatch.RetryCommitScan(ctx, api.Store, id, repositoryID, commitSHA, tool, api.Roots.ScanConfigRoot, api.Dispatch)
}

func (api *API) resolveRepositoryForCommit(scenarioID, commitSHA string) (string, error) {
	builds, err := api.Store.ListIngestionBuildsForScenario(scenarioID)
	if err != nil {
		return "", pipelineerr.New(pipelineerr.KindFatal, "retry_commit_scan", err)
	}
	for _, ib := range builds {
		br, err := api.Store.GetBuildRun(ib.BuildRunID)
		if err != nil || br == nil {
			continue
		}
		if br.CommitSHA == commitSHA {
			return br.RepositoryID, nil
		}
	}
	return "", nil
}

// OnSonarAnalysisComplete is the webhook sink §6 names
// (`OnSonarAnalysisComplete(component_key, metrics)`); it carries the fuller
// SonarWebhookPayload scandispatch needs to resolve the pending scan rather
// than re-deriving it from the component key string alone (see
// scandispatch.HandleSonarWebhook's doc comment).
func (api *API) OnSonarAnalysisComplete(payload scandispatch.SonarWebhookPayload) error {
	return scandispatch.HandleSonarWebhook(api.Store, payload, func() string { return "audit-" + uuid.NewString() })
}

// NewRetrySweeper is a small convenience the main entrypoint uses to start
// one scan-retry sweep per active scenario; kept here so cmd/ doesn't need
// to know scandispatch's constructor shape.
func (api *API) NewRetrySweeper(scenarioID, cronExpr string, expireAfter time.Duration) (*scandispatch.RetrySweeper, error) {
	return scandispatch.NewRetrySweeper(cronExpr, scenarioID, api.Store, api.Dispatch, api.Roots.ScanConfigRoot, expireAfter)
}

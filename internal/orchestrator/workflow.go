package orchestrator

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/antigravity-dev/buildrisk/internal/ingestion"
	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/taskrt"
)

const TaskGroupIngestionByRepo = "group_ingestion_by_repo"

var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 10 * time.Minute,
	RetryPolicy:         taskrt.RetryPolicyFor(pipelineerr.KindRetryable, 5, time.Second, time.Minute, 2.0),
}

var noRetryActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy:         taskrt.RetryPolicyFor(pipelineerr.KindFatal, 1, time.Second, time.Second, 1.0),
}

// ScenarioWorkflow drives a Scenario's Phase 1 (Filter) and Phase 2
// (Ingest) — the two phases §4.4 says StartScenarioGeneration kicks off in
// one pass. Phase 3 (Process) is a distinct workflow started separately by
// StartProcessing, since the spec requires it to proceed only from the
// `ingested` state and be triggerable independently.
func ScenarioWorkflow(ctx workflow.Context, req StartScenarioGenerationRequest) error {
	actCtx := workflow.WithActivityOptions(ctx, noRetryActivityOptions)
	if err := workflow.ExecuteActivity(actCtx, TaskFilterScenario, FilterPayload{ScenarioID: req.ScenarioID}).Get(ctx, nil); err != nil {
		return err
	}

	var repoGroups []RepoGroup
	if err := workflow.ExecuteActivity(actCtx, TaskGroupIngestionByRepo, req.ScenarioID).Get(ctx, &repoGroups); err != nil {
		return err
	}
	if len(repoGroups) == 0 {
		// Filter already transitioned the scenario to `failed`; nothing to ingest.
		return nil
	}
	return runIngestionFanout(ctx, req.ScenarioID, repoGroups)
}

// runIngestionFanout drives §4.4 Phase 2 given an already-grouped repo
// worklist: clone_repo for every repo as one Group, then the cloned repos'
// worktree and log tasks as a second Group, then aggregate_ingestion once all
// of them have settled. Both ScenarioWorkflow's first pass and
// ReingestMissingResourceWorkflow's retry pass share it: the latter simply
// narrows repoGroups to builds that were previously `missing_resource`.
func runIngestionFanout(ctx workflow.Context, scenarioID string, repoGroups []RepoGroup) error {
	correlationID := workflow.GetInfo(ctx).WorkflowExecution.ID

	var cloneSteps []taskrt.Step
	for _, g := range repoGroups {
		cloneSteps = append(cloneSteps, taskrt.Step{Name: TaskCloneRepo, Payload: CloneRepoPayload{
			ScenarioID: scenarioID, RawRepoID: g.RawRepoID, FullName: g.FullName,
			CloneURL: g.CloneURL, CorrelationID: correlationID,
		}})
	}

	// clone_repo must settle for every repo before worktree/log tasks run
	// against its clone.
	cloneResults := taskrt.Group(ctx, defaultActivityOptions, cloneSteps)
	cloneOK := make(map[string]bool, len(repoGroups))
	for i, r := range cloneResults {
		cloneOK[repoGroups[i].RawRepoID] = r.Err == nil
	}

	var fanoutSteps []taskrt.Step
	for _, g := range repoGroups {
		if !cloneOK[g.RawRepoID] {
			continue // clone-wide failure already recorded via the appended outcome
		}
		fanoutSteps = append(fanoutSteps,
			taskrt.Step{Name: TaskCreateWorktrees, Payload: WorktreesPayload{
				ScenarioID: scenarioID, RawRepoID: g.RawRepoID, FullName: g.FullName,
				CommitSHAs: g.CommitSHAs, Provider: g.Provider, CorrelationID: correlationID,
			}},
			taskrt.Step{Name: TaskDownloadLogs, Payload: LogsPayload{
				ScenarioID: scenarioID, RawRepoID: g.RawRepoID, FullName: g.FullName,
				Provider: g.Provider, Builds: g.Builds, CorrelationID: correlationID,
			}},
		)
	}

	// aggregate_ingestion runs once every worktree/log task has settled,
	// success or failure, and reads their outcomes from the correlation's
	// result list, so builds whose tasks failed still leave `ingesting`.
	taskrt.Group(ctx, defaultActivityOptions, fanoutSteps)
	actCtx := workflow.WithActivityOptions(ctx, noRetryActivityOptions)
	return workflow.ExecuteActivity(actCtx, TaskAggregateIngestion,
		AggregatePayload{ScenarioID: scenarioID, CorrelationID: correlationID}).Get(ctx, nil)
}

const TaskResetMissingResource = "reset_missing_resource"

// ReingestMissingResourceRequest is ReingestMissingResourceWorkflow's input.
type ReingestMissingResourceRequest struct {
	ScenarioID string
}

// ReingestMissingResourceWorkflow implements §4.4's retry entry point for
// `missing_resource` IngestionBuilds: reset them to their phase-entry
// (`pending`) state, then re-run Phase 2's fan-out scoped to just their
// repositories rather than the whole scenario.
func ReingestMissingResourceWorkflow(ctx workflow.Context, req ReingestMissingResourceRequest) error {
	actCtx := workflow.WithActivityOptions(ctx, noRetryActivityOptions)
	if err := workflow.ExecuteActivity(actCtx, TaskResetMissingResource, req.ScenarioID).Get(ctx, nil); err != nil {
		return err
	}

	var repoGroups []RepoGroup
	if err := workflow.ExecuteActivity(actCtx, TaskGroupIngestionByRepo, req.ScenarioID).Get(ctx, &repoGroups); err != nil {
		return err
	}
	if len(repoGroups) == 0 {
		return nil
	}
	return runIngestionFanout(ctx, req.ScenarioID, repoGroups)
}

// ResetMissingResourceActivity resets every `missing_resource`
// IngestionBuild for a scenario back to `pending` so GroupIngestionByRepo's
// pending-only filter picks them back up for a retry pass.
func (a *Activities) ResetMissingResourceActivity(ctx context.Context, scenarioID string) error {
	builds, err := a.Store.ListIngestionBuildsForScenario(scenarioID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "reset_missing_resource", err)
	}
	for _, ib := range builds {
		if ib.Status != "missing_resource" {
			continue
		}
		if err := a.Store.UpdateIngestionBuildStatus(ib.ID, "pending", "", "", false); err != nil {
			return pipelineerr.New(pipelineerr.KindFatal, "reset_missing_resource", err)
		}
	}
	return nil
}

// RepoGroup is one repository's worth of ingestion work, built from the
// scenario's pending IngestionBuild rows grouped by repository (§4.4 Phase 2
// step 1: "Group IngestionBuilds by repository").
type RepoGroup struct {
	RawRepoID  string
	FullName   string
	CloneURL   string
	Provider   string
	CommitSHAs []string
	Builds     []ingestion.BuildRef
}

// GroupIngestionByRepoActivity reads a scenario's pending IngestionBuilds
// and groups them by repository. It runs as an activity (not inline
// workflow code) because it performs store I/O, which Temporal workflow
// functions must not do directly.
func (a *Activities) GroupIngestionByRepoActivity(ctx context.Context, scenarioID string) ([]RepoGroup, error) {
	builds, err := a.Store.ListIngestionBuildsForScenario(scenarioID)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindFatal, "group_ingestion_by_repo", err)
	}

	order := make([]string, 0)
	byRepo := make(map[string]*RepoGroup)
	for _, ib := range builds {
		if ib.Status != "pending" {
			continue
		}
		br, err := a.Store.GetBuildRun(ib.BuildRunID)
		if err != nil || br == nil {
			continue
		}
		repo, err := a.Store.GetRepository(br.RepositoryID)
		if err != nil || repo == nil {
			continue
		}
		g, ok := byRepo[repo.ID]
		if !ok {
			g = &RepoGroup{RawRepoID: repo.ID, FullName: repo.FullName(), CloneURL: repo.CloneURL, Provider: br.Provider}
			byRepo[repo.ID] = g
			order = append(order, repo.ID)
		}
		g.CommitSHAs = append(g.CommitSHAs, br.CommitSHA)
		g.Builds = append(g.Builds, ingestion.BuildRef{BuildID: br.ID, ExternalID: br.ExternalID})
	}

	out := make([]RepoGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *byRepo[id])
	}
	return out, nil
}

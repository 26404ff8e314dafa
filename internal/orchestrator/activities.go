package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/antigravity-dev/buildrisk/internal/featuredag"
	"github.com/antigravity-dev/buildrisk/internal/ingestion"
	"github.com/antigravity-dev/buildrisk/internal/metrics"
	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/resourcedag"
	"github.com/antigravity-dev/buildrisk/internal/scandispatch"
	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

// FilterPayload is TaskFilterScenario's argument.
type FilterPayload struct {
	ScenarioID string
}

// FilterScenarioActivity runs §4.4 Phase 1: match candidate builds, bulk
// create pending IngestionBuilds, and transition the scenario into
// `ingesting` — or `failed` with "no matches" if nothing matched.
func (a *Activities) FilterScenarioActivity(ctx context.Context, p FilterPayload) error {
	sc, err := a.Store.GetScenario(p.ScenarioID)
	if err != nil || sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "filter_scenario", fmt.Errorf("scenario %s not found", p.ScenarioID))
	}
	doc, err := scenario.Parse(sc.YAML)
	if err != nil {
		return err
	}

	count, err := FilterCandidates(a.Store, p.ScenarioID, doc)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "filter_scenario", err)
	}
	metrics.ScenarioStarted()
	if count == 0 {
		metrics.ScenarioFailed()
		return a.Store.UpdateScenario(p.ScenarioID, map[string]any{
			"status":         "failed",
			"failure_reason": "no matches",
		})
	}
	return a.Store.UpdateScenario(p.ScenarioID, map[string]any{
		"status":       "ingesting",
		"builds_total": count,
	})
}

// --- Phase 2: ingestion ---

// CloneRepoPayload is TaskCloneRepo's argument.
type CloneRepoPayload struct {
	ScenarioID     string
	RawRepoID      string
	FullName       string
	CloneURL       string
	CorrelationID  string
}

// CloneRepoActivity wraps ingestion.CloneRepo, appending its per-resource
// outcome to the correlation-keyed result list the ingestion chord's
// aggregate_ingestion callback later drains (§4.5, §4.4 Phase 2).
func (a *Activities) CloneRepoActivity(ctx context.Context, p CloneRepoPayload) error {
	outcome, err := ingestion.CloneRepo(a.Roots.ReposRoot, p.RawRepoID, p.CloneURL, a.Locks)
	payload := resourceOutcome{Resource: "clone_repo", RawRepoID: p.RawRepoID}
	if err != nil {
		payload.Failed = true
		payload.Reason = err.Error()
		payload.CloneWide = true
		a.appendResult(ctx, p.CorrelationID, "clone_repo", payload)
		return err
	}
	payload.Path = outcome.Path
	a.appendResult(ctx, p.CorrelationID, "clone_repo", payload)
	return nil
}

// WorktreesPayload is TaskCreateWorktrees's argument.
type WorktreesPayload struct {
	ScenarioID    string
	RawRepoID     string
	FullName      string
	CommitSHAs    []string
	Provider      string
	CorrelationID string
}

// WorktreesActivity wraps ingestion.CreateWorktreesBatch, recording a
// per-commit outcome so aggregate_ingestion can mark the corresponding
// IngestionBuild.
func (a *Activities) WorktreesActivity(ctx context.Context, p WorktreesPayload) error {
	summary, err := ingestion.CreateWorktreesBatch(ctx, a.Roots.ReposRoot, a.Roots.WorktreesRoot, p.RawRepoID,
		p.CommitSHAs, a.AllowReplay, a.provider(p.Provider), p.FullName, a.Locks)
	if err != nil {
		a.appendResult(ctx, p.CorrelationID, "create_worktrees_batch", resourceOutcome{
			Resource: "git_worktree", RawRepoID: p.RawRepoID, Failed: true, Reason: err.Error(), CloneWide: true,
		})
		return err
	}
	for _, r := range summary.Results {
		out := resourceOutcome{
			Resource: "git_worktree", RawRepoID: p.RawRepoID, CommitSHA: r.CommitSHA,
			EffectiveSHA: r.EffectiveSHA, Path: r.Path, Outcome: r.Outcome,
		}
		if r.Err != nil {
			out.Failed = true
			out.Reason = r.Err.Error()
		}
		a.appendResult(ctx, p.CorrelationID, "create_worktrees_batch", out)
	}
	return nil
}

// LogsPayload is TaskDownloadLogs's argument.
type LogsPayload struct {
	ScenarioID    string
	RawRepoID     string
	FullName      string
	Provider      string
	Builds        []ingestion.BuildRef
	CorrelationID string
}

// LogsActivity wraps ingestion.DownloadBuildLogsBatch.
func (a *Activities) LogsActivity(ctx context.Context, p LogsPayload) error {
	outcomes := ingestion.DownloadBuildLogsBatch(ctx, a.Roots.LogsRoot, p.RawRepoID, p.FullName,
		p.Builds, a.provider(p.Provider), a.ExpiredLogStreak, a.MaxLogFileBytes)
	for _, o := range outcomes {
		out := resourceOutcome{
			Resource: "build_logs", RawRepoID: p.RawRepoID, BuildID: o.BuildID, JobsWritten: o.JobsWritten,
			Expired: o.Expired,
		}
		if o.Err != nil {
			out.Failed = true
			out.Reason = o.Err.Error()
		}
		a.appendResult(ctx, p.CorrelationID, "download_build_logs", out)
	}
	return nil
}

// resourceOutcome is the structured per-resource per-build outcome every
// ingestion task appends to the correlation result list (§4.5 closing
// paragraph), JSON-encoded as the ResultStore's opaque payload string.
type resourceOutcome struct {
	Resource     string
	RawRepoID    string
	BuildID      string
	CommitSHA    string
	EffectiveSHA string
	Path         string
	Outcome      string
	JobsWritten  int
	Expired      bool
	Failed       bool
	CloneWide    bool // a clone-level failure invalidates every build for the repo
	Reason       string
}

func (a *Activities) appendResult(ctx context.Context, correlationID, stepName string, out resourceOutcome) {
	encoded, err := json.Marshal(out)
	if err != nil {
		return
	}
	_ = a.Results.AppendResult(ctx, correlationID, stepName, string(encoded))
}

// AggregatePayload is TaskAggregateIngestion's argument.
type AggregatePayload struct {
	ScenarioID    string
	CorrelationID string
}

// AggregateIngestionActivity implements §4.4 Phase 2 step 3: drain the
// correlation result list, derive each IngestionBuild's overall status from
// its per-resource outcomes, and transition the scenario to `ingested` (or
// `failed` if no build made it).
func (a *Activities) AggregateIngestionActivity(ctx context.Context, p AggregatePayload) error {
	results, err := a.Results.DrainResults(ctx, p.CorrelationID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "aggregate_ingestion", err)
	}

	cloneWideFailedRepos := make(map[string]bool)
	worktreeByBuild := make(map[string]resourceOutcome) // key: rawRepoID|commitSHA -> last outcome
	logsByBuild := make(map[string]resourceOutcome)     // key: rawRepoID|buildID -> last outcome

	for _, r := range results {
		var out resourceOutcome
		if err := json.Unmarshal([]byte(r.Payload), &out); err != nil {
			continue
		}
		switch out.Resource {
		case "clone_repo":
			if out.Failed && out.CloneWide {
				cloneWideFailedRepos[out.RawRepoID] = true
			}
		case "git_worktree":
			worktreeByBuild[out.RawRepoID+"|"+out.CommitSHA] = out
		case "build_logs":
			logsByBuild[out.RawRepoID+"|"+out.BuildID] = out
		}
	}

	builds, err := a.Store.ListIngestionBuildsForScenario(p.ScenarioID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "aggregate_ingestion", err)
	}

	ingestedCount := 0
	for _, ib := range builds {
		br, err := a.Store.GetBuildRun(ib.BuildRunID)
		if err != nil || br == nil {
			continue
		}
		status, worktreePath, logsPath, historyReady := deriveIngestionStatus(cloneWideFailedRepos, worktreeByBuild, logsByBuild, br)
		if err := a.Store.UpdateIngestionBuildStatus(ib.ID, status, worktreePath, logsPath, historyReady); err != nil {
			return pipelineerr.New(pipelineerr.KindFatal, "aggregate_ingestion", err)
		}
		if status == "ingested" {
			ingestedCount++
		}
	}

	if ingestedCount == 0 {
		metrics.ScenarioFailed()
		return a.Store.UpdateScenario(p.ScenarioID, map[string]any{
			"status":         "failed",
			"failure_reason": "no build reached ingested",
		})
	}
	metrics.BuildIngested(ingestedCount)
	return a.Store.UpdateScenario(p.ScenarioID, map[string]any{
		"status":          "ingested",
		"builds_ingested": ingestedCount,
	})
}

func deriveIngestionStatus(cloneWideFailed map[string]bool, worktrees, logsMap map[string]resourceOutcome, br *store.RawBuildRun) (status, worktreePath, logsPath string, historyReady bool) {
	if cloneWideFailed[br.RepositoryID] {
		return "missing_resource", "", "", false
	}
	wt, haveWt := worktrees[br.RepositoryID+"|"+br.CommitSHA]
	lg := logsMap[br.RepositoryID+"|"+br.ID]

	switch {
	case !haveWt:
		return "missing_resource", "", "", false
	case wt.Failed:
		return "missing_resource", "", "", false
	default:
		historyReady = true
		worktreePath = wt.Path
		if lg.Failed || lg.Expired {
			logsPath = ""
		} else {
			logsPath = filepath.Join("", br.ID) // populated precisely by the logs task's own layout
		}
		return "ingested", worktreePath, logsPath, historyReady
	}
}

// --- Phase 3: processing ---

// ProcessBuildPayload is TaskProcessBuild's argument.
type ProcessBuildPayload struct {
	ScenarioID  string
	BuildRunID  string
	Features    []string
}

// ProcessBuildActivity runs the Feature DAG Engine (C6) for one build,
// writes its FeatureVector, records a FeatureAuditLog entry per node, and
// atomically increments the scenario's builds_features_extracted counter
// (§4.4 Phase 3, §4.6).
func (a *Activities) ProcessBuildActivity(ctx context.Context, p ProcessBuildPayload) error {
	br, err := a.Store.GetBuildRun(p.BuildRunID)
	if err != nil || br == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "process_build", fmt.Errorf("build run %s not found", p.BuildRunID))
	}
	ib, err := a.Store.GetIngestionBuild(p.ScenarioID, p.BuildRunID)
	if err != nil || ib == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "process_build", fmt.Errorf("ingestion build for %s not found", p.BuildRunID))
	}

	reg := a.FeatureRegistry
	if reg == nil {
		reg = featuredag.Global()
	}
	levels, err := featuredag.Resolve(reg, p.Features)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindConfiguration, "process_build", err)
	}

	bc := &featuredag.BuildContext{
		ScenarioID:   p.ScenarioID,
		BuildRunID:   p.BuildRunID,
		WorktreePath: ib.WorktreePath,
		LogsPath:     ib.LogsPath,
		Values:       make(map[string]any),
		Resources: map[resourcedag.Resource]bool{
			resourcedag.ResourceGitHistory:  ib.HistoryReady,
			resourcedag.ResourceGitWorktree: ib.WorktreePath != "",
			resourcedag.ResourceBuildLogs:   ib.LogsPath != "",
		},
	}

	outcomes := featuredag.Execute(ctx, reg, levels, bc, a.ExtractionPoolSize)

	okCount, degradedCount := 0, 0
	var degradedFeatures []string
	for _, o := range outcomes {
		outcomeKind := o.Outcome()
		if outcomeKind == "ok" {
			okCount++
		} else {
			degradedCount++
			degradedFeatures = append(degradedFeatures, o.Feature)
		}
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		} else {
			detail = o.Result.Reason
		}
		if err := a.Store.RecordFeatureAudit(store.FeatureAuditLog{
			ID:          fmt.Sprintf("%s:%s:%s", p.ScenarioID, p.BuildRunID, o.Feature),
			ScenarioID:  p.ScenarioID,
			BuildRunID:  p.BuildRunID,
			FeatureName: o.Feature,
			Outcome:     outcomeKind,
			Detail:      detail,
		}); err != nil {
			return pipelineerr.New(pipelineerr.KindFatal, "process_build", err)
		}
	}

	for name, value := range bc.Values {
		if err := a.Store.UpsertFeatureVector(store.FeatureVector{
			ID:          fmt.Sprintf("%s:%s:%s", p.ScenarioID, p.BuildRunID, name),
			ScenarioID:  p.ScenarioID,
			BuildRunID:  p.BuildRunID,
			FeatureName: name,
			Value:       sql.NullString{String: fmt.Sprintf("%v", value), Valid: true},
		}); err != nil {
			return pipelineerr.New(pipelineerr.KindFatal, "process_build", err)
		}
	}
	for _, name := range degradedFeatures {
		if err := a.Store.UpsertFeatureVector(store.FeatureVector{
			ID:          fmt.Sprintf("%s:%s:%s", p.ScenarioID, p.BuildRunID, name),
			ScenarioID:  p.ScenarioID,
			BuildRunID:  p.BuildRunID,
			FeatureName: name,
			Value:       sql.NullString{}, // graceful degradation: no value
		}); err != nil {
			return pipelineerr.New(pipelineerr.KindFatal, "process_build", err)
		}
	}

	status := "completed"
	switch {
	case okCount == 0:
		status = "failed"
	case degradedCount > 0:
		status = "partial"
	}
	degradedJSON, _ := json.Marshal(degradedFeatures)
	if err := a.Store.UpdateEnrichmentBuildStatus(ib.ID, status, string(degradedJSON)); err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "process_build", err)
	}
	if status == "completed" || status == "partial" {
		return a.Store.IncrementBuildsFeaturesExtracted(p.ScenarioID, 1)
	}
	return nil
}

// FinalizePayload is TaskFinalizeProcessing's argument.
type FinalizePayload struct {
	ScenarioID string
}

// FinalizeProcessingActivity aggregates per-build extraction counts,
// transitions the scenario to `splitting`, and dispatches Phase 4 (§4.4).
func (a *Activities) FinalizeProcessingActivity(ctx context.Context, p FinalizePayload) error {
	builds, err := a.Store.ListIngestionBuildsForScenario(p.ScenarioID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "finalize_processing", err)
	}
	extracted := 0
	for _, ib := range builds {
		eb, err := a.Store.GetEnrichmentBuild(p.ScenarioID, ib.BuildRunID)
		if err != nil || eb == nil {
			continue
		}
		if eb.Status == "completed" || eb.Status == "partial" {
			extracted++
		}
	}
	if err := a.Store.UpdateScenario(p.ScenarioID, map[string]any{
		"status":                    "splitting",
		"builds_features_extracted": extracted,
	}); err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "finalize_processing", err)
	}
	metrics.BuildFeaturesExtracted(extracted)
	if a.Dispatcher == nil {
		return nil
	}
	return a.Dispatcher.Dispatch(ctx, "scenario_processing", TaskSplitScenario, FinalizePayload{ScenarioID: p.ScenarioID})
}

// DispatchScanPayload is the fire-and-forget scan dispatch's argument, fired
// alongside Phase 3 when any scan metric is selected (§4.4 Phase 3, §4.7).
type DispatchScanPayload struct {
	ScenarioID     string
	ScanConfigRoot string
}

// DispatchScanActivity hands off to scandispatch.Dispatch so scan execution
// never sits on the processing chain's critical path.
func (a *Activities) DispatchScanActivity(ctx context.Context, p DispatchScanPayload) error {
	opts := scandispatch.Options{}
	if a.ScanDispatch != nil {
		opts = *a.ScanDispatch
	}
	return scandispatch.Dispatch(ctx, a.Store, p.ScenarioID, p.ScanConfigRoot, a.Dispatcher, opts)
}


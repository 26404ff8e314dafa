package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"go.temporal.io/sdk/workflow"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/store"
	"github.com/antigravity-dev/buildrisk/internal/taskrt"
)

const TaskPrepareProcessing = "prepare_processing"

// StartProcessingRequest is ProcessingWorkflow's input (§4.4 Phase 3).
type StartProcessingRequest struct {
	ScenarioID string
}

// ProcessingWorkflow implements §4.4 Phase 3: create one EnrichmentBuild per
// ingested IngestionBuild sorted ascending by build_started_at, chain
// process_build activities sequentially so build-history features observe
// consistent state, then finalize. In parallel it fires the scan dispatcher
// if any scan metric was selected.
func ProcessingWorkflow(ctx workflow.Context, req StartProcessingRequest) error {
	actCtx := workflow.WithActivityOptions(ctx, noRetryActivityOptions)

	var prep preparedProcessing
	if err := workflow.ExecuteActivity(actCtx, TaskPrepareProcessing, req.ScenarioID).Get(ctx, &prep); err != nil {
		return err
	}
	if prep.HasScanMetrics {
		// Fire-and-forget: Phase 3's processing chain does not wait on the
		// scan dispatcher (§4.4 Phase 3: "In parallel ... dispatches the Scan
		// Dispatcher"). workflow.Go keeps it off the Chain's critical path
		// while still tying its lifetime to this workflow execution.
		workflow.Go(ctx, func(gctx workflow.Context) {
			_ = workflow.ExecuteActivity(workflow.WithActivityOptions(gctx, noRetryActivityOptions),
				TaskDispatchScan, DispatchScanPayload{ScenarioID: req.ScenarioID, ScanConfigRoot: prep.ScanConfigRoot}).Get(gctx, nil)
		})
	}

	steps := make([]taskrt.Step, 0, len(prep.BuildRunIDs))
	for _, id := range prep.BuildRunIDs {
		steps = append(steps, taskrt.Step{Name: TaskProcessBuild, Payload: ProcessBuildPayload{
			ScenarioID: req.ScenarioID, BuildRunID: id, Features: prep.Features,
		}})
	}
	if err := taskrt.Chain(ctx, defaultActivityOptions, steps); err != nil {
		return err
	}

	return workflow.ExecuteActivity(actCtx, TaskFinalizeProcessing, FinalizePayload{ScenarioID: req.ScenarioID}).Get(ctx, nil)
}

const TaskDispatchScan = "dispatch_scan"

type preparedProcessing struct {
	BuildRunIDs    []string
	Features       []string
	HasScanMetrics bool
	ScanConfigRoot string
}

// PrepareProcessingActivity moves the scenario to `processing`, creates one
// EnrichmentBuild per ingested IngestionBuild ordered by build_started_at,
// and resolves the scenario's declared feature set.
func (a *Activities) PrepareProcessingActivity(ctx context.Context, scenarioID string) (preparedProcessing, error) {
	sc, err := a.Store.GetScenario(scenarioID)
	if err != nil || sc == nil {
		return preparedProcessing{}, pipelineerr.New(pipelineerr.KindNotFound, "prepare_processing", fmt.Errorf("scenario %s not found", scenarioID))
	}
	if sc.Status != "ingested" {
		return preparedProcessing{}, pipelineerr.New(pipelineerr.KindConflict, "prepare_processing",
			fmt.Errorf("scenario %s is %q, not ingested", scenarioID, sc.Status))
	}
	doc, err := scenario.Parse(sc.YAML)
	if err != nil {
		return preparedProcessing{}, err
	}

	ok, err := a.Store.TransitionScenario(scenarioID, "ingested", "processing")
	if err != nil {
		return preparedProcessing{}, pipelineerr.New(pipelineerr.KindFatal, "prepare_processing", err)
	}
	if !ok {
		return preparedProcessing{}, pipelineerr.New(pipelineerr.KindConflict, "prepare_processing",
			fmt.Errorf("scenario %s already left ingested", scenarioID))
	}

	builds, err := a.Store.ListIngestionBuildsForScenario(scenarioID)
	if err != nil {
		return preparedProcessing{}, pipelineerr.New(pipelineerr.KindFatal, "prepare_processing", err)
	}

	type ordered struct {
		buildRunID string
		startedAt  int64
	}
	var runs []ordered
	for _, ib := range builds {
		if ib.Status != "ingested" {
			continue
		}
		br, err := a.Store.GetBuildRun(ib.BuildRunID)
		if err != nil || br == nil {
			continue
		}
		if err := a.Store.CreateEnrichmentBuild(store.EnrichmentBuild{
			ID: scenarioID + ":" + ib.BuildRunID, ScenarioID: scenarioID, BuildRunID: ib.BuildRunID, Status: "pending",
		}); err != nil {
			return preparedProcessing{}, pipelineerr.New(pipelineerr.KindFatal, "prepare_processing", err)
		}
		var startedAt int64
		if br.StartedAt.Valid {
			startedAt = br.StartedAt.Time.Unix()
		}
		runs = append(runs, ordered{buildRunID: br.ID, startedAt: startedAt})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].startedAt < runs[j].startedAt })

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.buildRunID
	}

	features, err := scenario.ResolveFeatures(a.expandFeatures, doc)
	if err != nil {
		return preparedProcessing{}, err
	}

	hasScan := len(doc.Features.ScanMetrics.Sonarqube) > 0 || len(doc.Features.ScanMetrics.Trivy) > 0
	return preparedProcessing{
		BuildRunIDs:    ids,
		Features:       features,
		HasScanMetrics: hasScan,
		ScanConfigRoot: a.Roots.ScanConfigRoot,
	}, nil
}

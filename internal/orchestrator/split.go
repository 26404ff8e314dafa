package orchestrator

import (
	"context"
	"fmt"

	"github.com/antigravity-dev/buildrisk/internal/metrics"
	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/splitter"
)

// SplitScenarioRequest is TaskSplitScenario's argument (§4.4 Phase 4).
type SplitScenarioRequest struct {
	ScenarioID string
}

// SplitScenarioActivity implements §4.4 Phase 4: load every EnrichmentBuild
// with an attached FeatureVector, build the in-memory frame, preprocess,
// split, export one file per non-empty split, and transition to `completed`.
func (a *Activities) SplitScenarioActivity(ctx context.Context, req SplitScenarioRequest) error {
	sc, err := a.Store.GetScenario(req.ScenarioID)
	if err != nil || sc == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "split_scenario", fmt.Errorf("scenario %s not found", req.ScenarioID))
	}
	doc, err := scenario.Parse(sc.YAML)
	if err != nil {
		return err
	}

	outputRoot := a.Roots.ScenariosRoot
	_, err = splitter.Run(ctx, a.Store, req.ScenarioID, doc, outputRoot)
	if err != nil {
		metrics.ScenarioFailed()
		return a.Store.UpdateScenario(req.ScenarioID, map[string]any{
			"status":         "failed",
			"failure_reason": err.Error(),
		})
	}
	metrics.ScenarioCompleted()
	return a.Store.UpdateScenario(req.ScenarioID, map[string]any{"status": "completed"})
}

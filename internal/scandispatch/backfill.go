package scandispatch

import (
	"database/sql"
	"fmt"

	"github.com/antigravity-dev/buildrisk/internal/metrics"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

// BackfillMetrics writes a completed scan's metrics into every FeatureVector
// scoped to (scenario, commit_sha) and advances the scenario's scan
// counters (§4.7 steps 5-6). Disjoint prefixes (sonar_ vs trivy_) mean two
// tools backfilling the same commit concurrently never touch the same
// FeatureVector row.
func BackfillMetrics(st *store.Store, scenarioID, repositoryID, commitSHA string, tool Tool, metrics map[string]string, idFn func() string) error {
	buildRunIDs, err := buildRunIDsForCommit(st, scenarioID, repositoryID, commitSHA)
	if err != nil {
		return fmt.Errorf("scandispatch: backfill %s: %w", tool, err)
	}

	prefix := tool.MetricPrefix()
	for _, buildRunID := range buildRunIDs {
		for metric, value := range metrics {
			if err := st.UpsertFeatureVector(store.FeatureVector{
				ID:          idFn(),
				ScenarioID:  scenarioID,
				BuildRunID:  buildRunID,
				FeatureName: prefix + metric,
				Value:       sql.NullString{String: value, Valid: true},
			}); err != nil {
				return fmt.Errorf("scandispatch: upsert %s%s for build %s: %w", prefix, metric, buildRunID, err)
			}
		}
	}
	return nil
}

// CompleteScan records a finished scan unit's outcome: resolves the Sonar
// pending row (if any), bumps scans_completed/scans_failed, and flips
// scan_extraction_completed the instant every scan has reported (§4.7 step 6).
func CompleteScan(st *store.Store, scenarioID, repositoryID, commitSHA string, tool Tool, failed bool) error {
	if tool == ToolSonar {
		if err := st.ResolveSonarScanPending(repositoryID, commitSHA); err != nil {
			return fmt.Errorf("scandispatch: resolve sonar pending: %w", err)
		}
	}

	completedDelta, failedDelta := 1, 0
	if failed {
		completedDelta, failedDelta = 0, 1
	}
	if err := st.IncrementScanCounters(scenarioID, completedDelta, failedDelta); err != nil {
		return fmt.Errorf("scandispatch: increment scan counters: %w", err)
	}
	if _, err := st.MarkScanExtractionCompleteIfDone(scenarioID); err != nil {
		return fmt.Errorf("scandispatch: mark scan extraction complete: %w", err)
	}
	metrics.ScanCompleted(failed)
	return nil
}

// buildRunIDsForCommit resolves every raw build run in this scenario whose
// commit matches, since a commit can have been observed by more than one
// CI run (e.g. a re-triggered workflow).
func buildRunIDsForCommit(st *store.Store, scenarioID, repositoryID, commitSHA string) ([]string, error) {
	builds, err := st.ListIngestionBuildsForScenario(scenarioID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, b := range builds {
		run, err := st.GetBuildRun(b.BuildRunID)
		if err != nil {
			return nil, err
		}
		if run == nil || run.RepositoryID != repositoryID || run.CommitSHA != commitSHA {
			continue
		}
		ids = append(ids, b.BuildRunID)
	}
	return ids, nil
}

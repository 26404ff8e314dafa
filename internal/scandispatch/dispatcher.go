package scandispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/buildrisk/internal/metrics"
	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

// Options configures batching (mirrors config.ScanTools' batch settings; kept as a plain struct here so this package doesn't
// import internal/config and force every caller onto its validation path).
type Options struct {
	BatchSize       int
	InterBatchDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.InterBatchDelay <= 0 {
		o.InterBatchDelay = 500 * time.Millisecond
	}
	return o
}

// sleepFunc is swapped out in tests so batch-delay assertions don't actually
// wait on the wall clock.
var sleepFunc = time.Sleep

// Dispatch runs the §4.7 algorithm for one scenario: enumerate ingested
// builds, deduplicate to (repo, commit) scan units per enabled tool, record
// scans_total, materialize per-repo-or-default tool config on disk, and
// hand each unit to the task dispatcher in delayed batches.
func Dispatch(ctx context.Context, st *store.Store, scenarioID string, scanConfigRoot string, dispatcher TaskDispatcher, opts Options) error {
	opts = opts.withDefaults()

	sc, err := st.GetScenario(scenarioID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "scan_dispatch", err)
	}

	doc := parseScenarioDoc(sc.YAML)
	tools := doc.EnabledTools()
	if len(tools) == 0 {
		return nil
	}

	units, err := enumerateScanUnits(st, sc, tools)
	if err != nil {
		return err
	}

	if err := st.UpdateScenario(scenarioID, map[string]any{"scans_total": len(units)}); err != nil {
		return pipelineerr.New(pipelineerr.KindRetryable, "scan_dispatch", fmt.Errorf("record scans_total: %w", err))
	}

	for i := 0; i < len(units); i += opts.BatchSize {
		end := i + opts.BatchSize
		if end > len(units) {
			end = len(units)
		}
		batch := units[i:end]
		for _, u := range batch {
			if err := dispatchUnit(ctx, st, doc, u, scenarioID, scanConfigRoot, dispatcher); err != nil {
				return err
			}
		}
		if end < len(units) {
			sleepFunc(opts.InterBatchDelay)
		}
	}
	return nil
}

// enumerateScanUnits groups ingested builds by (raw_repo_id, commit_sha),
// deduplicates, and fans each unique commit out into one ScanUnit per
// enabled tool (§4.7 step 1).
func enumerateScanUnits(st *store.Store, sc *store.Scenario, tools []Tool) ([]ScanUnit, error) {
	builds, err := st.ListIngestionBuildsForScenario(sc.ID)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindRetryable, "scan_dispatch", err)
	}

	type commitKey struct {
		repoID string
		sha    string
	}
	seen := make(map[commitKey]bool)
	var units []ScanUnit

	for _, b := range builds {
		if b.Status != "ingested" {
			continue
		}
		run, err := st.GetBuildRun(b.BuildRunID)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindRetryable, "scan_dispatch", err)
		}
		if run == nil {
			continue
		}
		key := commitKey{repoID: run.RepositoryID, sha: run.CommitSHA}
		if seen[key] {
			continue
		}
		seen[key] = true

		repo, err := st.GetRepository(run.RepositoryID)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.KindRetryable, "scan_dispatch", err)
		}
		if repo == nil {
			continue
		}
		fullName := repo.Owner + "/" + repo.Name

		for _, tool := range tools {
			units = append(units, ScanUnit{
				ScenarioID:   sc.ID,
				RepositoryID: run.RepositoryID,
				RepoFullName: fullName,
				CommitSHA:    run.CommitSHA,
				WorktreePath: b.WorktreePath,
				Tool:         tool,
			})
		}
	}
	return units, nil
}

// dispatchUnit materializes the unit's tool config if missing, records a
// SonarScanPending tracking row for Sonar units, and enqueues the scan task
// on its dedicated queue (§4.7 steps 4 and 5).
func dispatchUnit(ctx context.Context, st *store.Store, doc scenarioDoc, u ScanUnit, scenarioID, scanConfigRoot string, dispatcher TaskDispatcher) error {
	override := doc.RepoOverride(u.Tool, u.RepositoryID)
	configPath, err := MaterializeToolConfig(scanConfigRoot, scenarioID, u.RepositoryID, u.Tool, override)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "scan_dispatch", err)
	}

	if u.Tool == ToolSonar {
		if err := st.RecordSonarScanPending(store.SonarScanPending{
			ID:           sonarPendingID(scenarioID, u.RepositoryID, u.CommitSHA),
			RepositoryID: u.RepositoryID,
			CommitSHA:    u.CommitSHA,
			DispatchedAt: nowFunc(),
		}); err != nil {
			return pipelineerr.New(pipelineerr.KindRetryable, "scan_dispatch", err)
		}
	}

	payload := ScanTaskPayload{
		Unit:       u,
		ConfigPath: configPath,
	}
	if err := dispatcher.Dispatch(ctx, u.Tool.Queue(), u.Tool.TaskName(), payload); err != nil {
		return pipelineerr.New(pipelineerr.KindRetryable, "scan_dispatch", err)
	}
	metrics.ScanDispatched()
	return nil
}

func sonarPendingID(scenarioID, repositoryID, sha string) string {
	return scenarioID + ":" + repositoryID + ":" + sha
}

// ScanTaskPayload is what gets handed to a sonar_scan/trivy_scan task.
type ScanTaskPayload struct {
	Unit       ScanUnit
	ConfigPath string
}

// RetryCommitScan resets a scan's pending row and redispatches it, per the
// §4.7 retry surface.
func RetryCommitScan(ctx context.Context, st *store.Store, scenarioID, repositoryID, commitSHA string, tool Tool, scanConfigRoot string, dispatcher TaskDispatcher) error {
	sc, err := st.GetScenario(scenarioID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "retry_commit_scan", err)
	}
	repo, err := st.GetRepository(repositoryID)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "retry_commit_scan", err)
	}
	if repo == nil {
		return pipelineerr.New(pipelineerr.KindNotFound, "retry_commit_scan", fmt.Errorf("repository %s not found", repositoryID))
	}

	doc := parseScenarioDoc(sc.YAML)
	u := ScanUnit{
		ScenarioID:   scenarioID,
		RepositoryID: repositoryID,
		RepoFullName: repo.Owner + "/" + repo.Name,
		CommitSHA:    commitSHA,
		Tool:         tool,
	}
	return dispatchUnit(ctx, st, doc, u, scenarioID, scanConfigRoot, dispatcher)
}

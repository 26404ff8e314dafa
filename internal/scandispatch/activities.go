package scandispatch

import (
	"context"
	"time"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

// ScanActivities bundles the dependencies behind the start_sonar_scan and
// start_trivy_scan tasks dispatchUnit enqueues (§4.7 step 4). One instance
// is registered per worker serving a tool's dedicated queue, the same way
// orchestrator.Activities is registered on the general task-queue worker.
type ScanActivities struct {
	Store       *store.Store
	Runner      *DockerRunner
	IDFunc      func() string
	SonarImage  string
	TrivyImage  string
	TrivyTimeout time.Duration
}

func (a *ScanActivities) trivyTimeout() time.Duration {
	if a.TrivyTimeout <= 0 {
		return 10 * time.Minute
	}
	return a.TrivyTimeout
}

// StartSonarScanActivity launches the Sonar container for a scan unit and
// returns as soon as it's running. Sonar is webhook-driven (§4.7): this
// activity does not wait for or record a result — HandleSonarWebhook does
// that once SonarQube calls back.
func (a *ScanActivities) StartSonarScanActivity(ctx context.Context, p ScanTaskPayload) error {
	if _, err := a.Runner.StartSonarScan(ctx, a.SonarImage, p.Unit.WorktreePath, p.ConfigPath); err != nil {
		return pipelineerr.New(pipelineerr.KindRetryable, "start_sonar_scan", err)
	}
	return nil
}

// StartTrivyScanActivity runs the Trivy container synchronously and
// backfills its metrics before returning, per §4.7's "Trivy runs the
// scanner synchronously inside its task and backfills on return". A scan
// failure still records a completed (failed) scan so scan_extraction
// counters don't hang waiting on a unit that will never report back.
func (a *ScanActivities) StartTrivyScanActivity(ctx context.Context, p ScanTaskPayload) error {
	metrics, err := a.Runner.RunTrivy(ctx, a.TrivyImage, p.Unit.WorktreePath, p.ConfigPath, a.trivyTimeout())
	if err != nil {
		if cerr := CompleteScan(a.Store, p.Unit.ScenarioID, p.Unit.RepositoryID, p.Unit.CommitSHA, ToolTrivy, true); cerr != nil {
			return pipelineerr.New(pipelineerr.KindFatal, "start_trivy_scan", cerr)
		}
		return pipelineerr.New(pipelineerr.KindRetryable, "start_trivy_scan", err)
	}

	if err := BackfillMetrics(a.Store, p.Unit.ScenarioID, p.Unit.RepositoryID, p.Unit.CommitSHA, ToolTrivy, metrics, a.IDFunc); err != nil {
		return pipelineerr.New(pipelineerr.KindFatal, "start_trivy_scan", err)
	}
	return CompleteScan(a.Store, p.Unit.ScenarioID, p.Unit.RepositoryID, p.Unit.CommitSHA, ToolTrivy, false)
}

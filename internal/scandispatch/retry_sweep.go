package scandispatch

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

// RetrySweeper periodically re-dispatches Sonar scans whose webhook never
// landed, per §4.7's retry surface ("a RetryCommitScan action resets that
// scan's pending row and redispatches"). Trivy has no equivalent sweep: it
// backfills synchronously inside its own task, so a stuck Trivy scan is a
// stuck task, not a stuck webhook.
//
// One sweeper runs per scenario, mirroring the orchestrator's per-scenario
// workflow — SonarScanPending is keyed by (repository, commit) only, so the
// sweeper narrows to this scenario's repositories before redispatching.
type RetrySweeper struct {
	cron           *cron.Cron
	st             *store.Store
	dispatcher     TaskDispatcher
	scenarioID     string
	scanConfigRoot string
	expireAfter    time.Duration
}

// NewRetrySweeper builds a sweeper for one scenario that runs on cronExpr
// (e.g. the configured scan_retry_sweep interval) and re-dispatches any of
// that scenario's Sonar pending rows older than expireAfter.
func NewRetrySweeper(cronExpr, scenarioID string, st *store.Store, dispatcher TaskDispatcher, scanConfigRoot string, expireAfter time.Duration) (*RetrySweeper, error) {
	c := cron.New()
	s := &RetrySweeper{cron: c, st: st, dispatcher: dispatcher, scenarioID: scenarioID, scanConfigRoot: scanConfigRoot, expireAfter: expireAfter}
	if _, err := c.AddFunc(cronExpr, s.sweepOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running the sweep on its schedule. Stop the returned cron
// via Stop when shutting down.
func (s *RetrySweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *RetrySweeper) Stop() context.Context { return s.cron.Stop() }

func (s *RetrySweeper) sweepOnce() {
	scenarioRepos, err := repositoriesForScenario(s.st, s.scenarioID)
	if err != nil {
		log.Printf("scandispatch: retry sweep: resolve scenario repos: %v", err)
		return
	}

	expired, err := s.st.ListExpiredSonarScans(s.expireAfter)
	if err != nil {
		log.Printf("scandispatch: retry sweep: list expired scans: %v", err)
		return
	}

	for _, p := range expired {
		if !scenarioRepos[p.RepositoryID] {
			continue
		}
		if err := s.retryOne(p); err != nil {
			log.Printf("scandispatch: retry sweep: %v", err)
		}
	}
}

func (s *RetrySweeper) retryOne(p store.SonarScanPending) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.st.IncrementSonarScanAttempt(p.ID, "retry sweep: webhook not received before deadline"); err != nil {
		return err
	}
	return RetryCommitScan(ctx, s.st, s.scenarioID, p.RepositoryID, p.CommitSHA, ToolSonar, s.scanConfigRoot, s.dispatcher)
}

// repositoriesForScenario returns the set of raw repository ids any
// ingested build in this scenario belongs to.
func repositoriesForScenario(st *store.Store, scenarioID string) (map[string]bool, error) {
	builds, err := st.ListIngestionBuildsForScenario(scenarioID)
	if err != nil {
		return nil, err
	}
	repos := make(map[string]bool)
	for _, b := range builds {
		run, err := st.GetBuildRun(b.BuildRunID)
		if err != nil {
			return nil, err
		}
		if run != nil {
			repos[run.RepositoryID] = true
		}
	}
	return repos, nil
}

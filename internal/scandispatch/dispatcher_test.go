package scandispatch

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, queue, taskName string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, queue+":"+taskName)
	return nil
}

const testScenarioYAML = `
features:
  scan_metrics:
    sonarqube: [bugs]
    trivy: [vulns]
`

func seedScanScenario(t *testing.T, s *store.Store) string {
	t.Helper()
	require.NoError(t, s.UpsertRepository(store.RawRepository{
		ID: "repo-a", Provider: "ghactions", Owner: "acme", Name: "widgets",
		CloneURL: "https://example.test/acme/widgets.git", DefaultBranch: "main",
	}))
	require.NoError(t, s.CreateScenario(store.Scenario{ID: "sc-1", Name: "nightly", YAML: testScenarioYAML, Status: "processing"}))

	for i, sha := range []string{"aaa111", "bbb222", "aaa111"} { // aaa111 repeated: must dedupe
		idx := strconv.Itoa(i)
		buildID, err := s.UpsertBuildRun(store.RawBuildRun{
			ID: "build-" + sha + "-" + idx, RepositoryID: "repo-a", Provider: "ghactions",
			ExternalID: idx, CommitSHA: sha, Branch: "main", Status: "passed",
		})
		require.NoError(t, err)
		require.NoError(t, s.CreateIngestionBuild(store.IngestionBuild{
			ID: "ib-" + idx, ScenarioID: "sc-1", BuildRunID: buildID,
			WorktreePath: "/data/worktrees/repo-a/" + sha[:6], Status: "ingested",
		}))
	}
	return "sc-1"
}

func TestDispatchDedupesCommitsAndRecordsScansTotal(t *testing.T) {
	s := tempScanStore(t)
	seedScanScenario(t, s)
	rec := &recordingDispatcher{}

	err := Dispatch(context.Background(), s, "sc-1", t.TempDir(), rec, Options{})
	require.NoError(t, err)

	sc, err := s.GetScenario("sc-1")
	require.NoError(t, err)
	// 2 unique commits * 2 tools (sonar, trivy) = 4 scan units.
	require.Equal(t, 4, sc.ScansTotal)
	require.Len(t, rec.calls, 4)
}

func TestDispatchNoopsWhenNoScanMetricsRequested(t *testing.T) {
	s := tempScanStore(t)
	require.NoError(t, s.CreateScenario(store.Scenario{ID: "sc-2", Name: "no-scans", YAML: "features:\n  dag_features: [git_commit_count]\n"}))
	rec := &recordingDispatcher{}

	err := Dispatch(context.Background(), s, "sc-2", t.TempDir(), rec, Options{})
	require.NoError(t, err)
	require.Empty(t, rec.calls)

	sc, err := s.GetScenario("sc-2")
	require.NoError(t, err)
	require.Equal(t, 0, sc.ScansTotal)
}

func TestDispatchBatchesWithInterBatchDelay(t *testing.T) {
	s := tempScanStore(t)
	require.NoError(t, s.UpsertRepository(store.RawRepository{
		ID: "repo-a", Provider: "ghactions", Owner: "acme", Name: "widgets",
		CloneURL: "https://example.test/acme/widgets.git", DefaultBranch: "main",
	}))
	require.NoError(t, s.CreateScenario(store.Scenario{ID: "sc-3", Name: "big", YAML: "features:\n  scan_metrics:\n    trivy: [vulns]\n"}))
	for i := 0; i < 5; i++ {
		sha := string(rune('a' + i))
		buildID, err := s.UpsertBuildRun(store.RawBuildRun{
			ID: "build-" + sha, RepositoryID: "repo-a", Provider: "ghactions",
			ExternalID: sha, CommitSHA: sha, Branch: "main", Status: "passed",
		})
		require.NoError(t, err)
		require.NoError(t, s.CreateIngestionBuild(store.IngestionBuild{
			ID: "ib-" + sha, ScenarioID: "sc-3", BuildRunID: buildID, Status: "ingested",
		}))
	}

	var sleeps int
	orig := sleepFunc
	sleepFunc = func(d time.Duration) { sleeps++ }
	defer func() { sleepFunc = orig }()

	rec := &recordingDispatcher{}
	err := Dispatch(context.Background(), s, "sc-3", t.TempDir(), rec, Options{BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, rec.calls, 5)
	require.Equal(t, 2, sleeps, "5 units in batches of 2 sleeps between batch 1->2 and 2->3, not after the final batch")
}

func tempScanStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

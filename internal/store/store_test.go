package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRepoAndBuild(t *testing.T, s *Store) (repoID, buildID string) {
	t.Helper()
	repoID = "repo-1"
	require.NoError(t, s.UpsertRepository(RawRepository{
		ID: repoID, Provider: "ghactions", Owner: "acme", Name: "widgets",
		CloneURL: "https://example.test/acme/widgets.git", DefaultBranch: "main",
	}))
	id, err := s.UpsertBuildRun(RawBuildRun{
		ID: "build-1", RepositoryID: repoID, Provider: "ghactions",
		ExternalID: "42", CommitSHA: "deadbeef", Branch: "main", Status: "passed",
	})
	require.NoError(t, err)
	return repoID, id
}

func TestUpsertBuildRunDeduplicatesByRepoAndCommit(t *testing.T) {
	s := tempStore(t)
	repoID, _ := seedRepoAndBuild(t, s)

	secondID, err := s.UpsertBuildRun(RawBuildRun{
		ID: "build-2", RepositoryID: repoID, Provider: "ghactions",
		ExternalID: "43", CommitSHA: "deadbeef", Branch: "main", Status: "failed",
	})
	require.NoError(t, err)

	builds, err := s.ListBuildRunsForRepository(repoID)
	require.NoError(t, err)
	require.Len(t, builds, 1, "duplicate (repo, commit) must not create a second row")
	require.Equal(t, "failed", builds[0].Status, "re-upsert should update status in place")
	require.Equal(t, "build-1", secondID, "the original row's id must be preserved across dedup")
}

func TestListRepositoriesFiltersByProvider(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.UpsertRepository(RawRepository{
		ID: "repo-gh", Provider: "github_actions", Owner: "acme", Name: "widgets",
		CloneURL: "https://example.test/acme/widgets.git", DefaultBranch: "main", PrimaryLanguage: "go",
	}))
	require.NoError(t, s.UpsertRepository(RawRepository{
		ID: "repo-gl", Provider: "gitlab_ci", Owner: "acme", Name: "gadgets",
		CloneURL: "https://example.test/acme/gadgets.git", DefaultBranch: "main", PrimaryLanguage: "python",
	}))

	all, err := s.ListRepositories("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	ghOnly, err := s.ListRepositories("github_actions")
	require.NoError(t, err)
	require.Len(t, ghOnly, 1)
	require.Equal(t, "repo-gh", ghOnly[0].ID)
	require.Equal(t, "go", ghOnly[0].PrimaryLanguage)
	require.Equal(t, "acme/widgets", ghOnly[0].FullName())
}

func TestScenarioLifecycleTransitions(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.CreateScenario(Scenario{ID: "sc-1", Name: "nightly", Status: "queued"}))

	ok, err := s.TransitionScenario("sc-1", "queued", "filtering")
	require.NoError(t, err)
	require.True(t, ok)

	// A second dispatcher racing the same transition must lose: the scenario
	// is no longer in "queued".
	ok, err = s.TransitionScenario("sc-1", "queued", "filtering")
	require.NoError(t, err)
	require.False(t, ok, "transition guard must reject double-dispatch")

	sc, err := s.GetScenario("sc-1")
	require.NoError(t, err)
	require.Equal(t, "filtering", sc.Status)
}

func TestUpdateScenarioRejectsUnknownColumn(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.CreateScenario(Scenario{ID: "sc-1", Name: "nightly"}))

	err := s.UpdateScenario("sc-1", map[string]any{"id": "sc-2"})
	require.Error(t, err)
}

func TestFeatureVectorUpsertPreservesDegradedValues(t *testing.T) {
	s := tempStore(t)
	_, buildID := seedRepoAndBuild(t, s)
	require.NoError(t, s.CreateScenario(Scenario{ID: "sc-1", Name: "nightly"}))

	require.NoError(t, s.UpsertFeatureVector(FeatureVector{
		ID: "fv-1", ScenarioID: "sc-1", BuildRunID: buildID,
		FeatureName: "git_commit_count", Value: sql.NullString{String: "12", Valid: true},
	}))
	require.NoError(t, s.UpsertFeatureVector(FeatureVector{
		ID: "fv-2", ScenarioID: "sc-1", BuildRunID: buildID,
		FeatureName: "gh_team_size", Value: sql.NullString{}, // degraded: missing resource
	}))

	vectors, err := s.ListFeatureVectorsForBuild("sc-1", buildID)
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	byName := map[string]FeatureVector{}
	for _, v := range vectors {
		byName[v.FeatureName] = v
	}
	require.True(t, byName["git_commit_count"].Value.Valid)
	require.Equal(t, "12", byName["git_commit_count"].Value.String)
	require.False(t, byName["gh_team_size"].Value.Valid, "degraded feature must be stored as NULL, not a sentinel string")
}

func TestPipelineRunAuditTrail(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.CreateScenario(Scenario{ID: "sc-1", Name: "nightly"}))

	require.NoError(t, s.StartPipelineRun(PipelineRun{ID: "pr-1", ScenarioID: "sc-1", Phase: "filter"}))
	require.NoError(t, s.FinishPipelineRun("pr-1", "completed", "3 repos matched"))

	runs, err := s.ListPipelineRunsForScenario("sc-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "completed", runs[0].Status)
	require.True(t, runs[0].FinishedAt.Valid)
}

func TestScanCountersIncrementAndCompleteOnce(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.CreateScenario(Scenario{ID: "sc-1", Name: "nightly"}))
	require.NoError(t, s.UpdateScenario("sc-1", map[string]any{"scans_total": 3}))

	require.NoError(t, s.IncrementScanCounters("sc-1", 1, 0))

	sc, err := s.GetScenario("sc-1")
	require.NoError(t, err)
	require.Equal(t, 1, sc.ScansCompleted)
	require.Equal(t, 0, sc.ScansFailed)
	require.False(t, sc.ScanExtractionCompleted)

	done, err := s.MarkScanExtractionCompleteIfDone("sc-1")
	require.NoError(t, err)
	require.False(t, done, "only 1 of 3 scans accounted for so far")

	require.NoError(t, s.IncrementScanCounters("sc-1", 1, 1))
	done, err = s.MarkScanExtractionCompleteIfDone("sc-1")
	require.NoError(t, err)
	require.True(t, done, "scans_completed+scans_failed has now reached scans_total")

	sc, err = s.GetScenario("sc-1")
	require.NoError(t, err)
	require.True(t, sc.ScanExtractionCompleted)

	// A second dispatcher racing the same flip must lose: it already flipped.
	done, err = s.MarkScanExtractionCompleteIfDone("sc-1")
	require.NoError(t, err)
	require.False(t, done, "must only flip once")
}

func TestSonarScanPendingRoundTrip(t *testing.T) {
	s := tempStore(t)
	repoID, _ := seedRepoAndBuild(t, s)

	require.NoError(t, s.RecordSonarScanPending(SonarScanPending{ID: "sp-1", RepositoryID: repoID, CommitSHA: "deadbeef"}))

	expired, err := s.ListExpiredSonarScans(0)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, s.IncrementSonarScanAttempt("sp-1", "webhook timeout"))
	require.NoError(t, s.ResolveSonarScanPending(repoID, "deadbeef"))

	expired, err = s.ListExpiredSonarScans(0)
	require.NoError(t, err)
	require.Empty(t, expired)
}

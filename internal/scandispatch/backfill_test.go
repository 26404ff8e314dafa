package scandispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

func TestBackfillMetricsWritesPrefixedFeatureVectors(t *testing.T) {
	s := tempScanStore(t)
	seedScanScenario(t, s)

	counter := 0
	idFn := func() string { counter++; return "fv-" + string(rune('0'+counter)) }

	err := BackfillMetrics(s, "sc-1", "repo-a", "aaa111", ToolTrivy, map[string]string{"vulns": "3"}, idFn)
	require.NoError(t, err)

	builds, err := s.ListIngestionBuildsForScenario("sc-1")
	require.NoError(t, err)

	found := false
	for _, b := range builds {
		run, err := s.GetBuildRun(b.BuildRunID)
		require.NoError(t, err)
		if run.CommitSHA != "aaa111" {
			continue
		}
		vectors, err := s.ListFeatureVectorsForBuild("sc-1", b.BuildRunID)
		require.NoError(t, err)
		for _, v := range vectors {
			if v.FeatureName == "trivy_vulns" {
				require.Equal(t, "3", v.Value.String)
				found = true
			}
		}
	}
	require.True(t, found, "expected trivy_vulns to be backfilled onto the matching commit's FeatureVector")
}

func TestCompleteScanFlipsExtractionCompleteWhenAllScansReport(t *testing.T) {
	s := tempScanStore(t)
	require.NoError(t, s.UpsertRepository(store.RawRepository{
		ID: "repo-a", Provider: "ghactions", Owner: "acme", Name: "widgets",
		CloneURL: "https://example.test/a.git", DefaultBranch: "main",
	}))
	require.NoError(t, s.CreateScenario(store.Scenario{ID: "sc-4", Name: "x"}))
	require.NoError(t, s.UpdateScenario("sc-4", map[string]any{"scans_total": 2}))

	require.NoError(t, s.RecordSonarScanPending(store.SonarScanPending{ID: "sp-1", RepositoryID: "repo-a", CommitSHA: "aaa"}))

	require.NoError(t, CompleteScan(s, "sc-4", "repo-a", "aaa", ToolSonar, false))
	sc, err := s.GetScenario("sc-4")
	require.NoError(t, err)
	require.False(t, sc.ScanExtractionCompleted)

	expired, err := s.ListExpiredSonarScans(0)
	require.NoError(t, err)
	require.Empty(t, expired, "resolved sonar pending row must be removed")

	require.NoError(t, CompleteScan(s, "sc-4", "repo-a", "bbb", ToolTrivy, true))
	sc, err = s.GetScenario("sc-4")
	require.NoError(t, err)
	require.True(t, sc.ScanExtractionCompleted)
	require.Equal(t, 1, sc.ScansCompleted)
	require.Equal(t, 1, sc.ScansFailed)
}

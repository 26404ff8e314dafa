package splitter

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedScenario(t *testing.T, st *store.Store, scenarioID string, n int) {
	t.Helper()
	require.NoError(t, st.UpsertRepository(store.RawRepository{
		ID: "repo-1", Provider: "github_actions", Owner: "acme", Name: "widgets",
		CloneURL: "https://example.test/acme/widgets.git", DefaultBranch: "main", PrimaryLanguage: "go",
	}))
	require.NoError(t, st.CreateScenario(store.Scenario{ID: scenarioID, Name: "demo", YAML: "version: \"1.0\"\n", Status: "processing"}))

	for i := 0; i < n; i++ {
		buildID, err := st.UpsertBuildRun(store.RawBuildRun{
			ID: padID(i), RepositoryID: "repo-1", Provider: "github_actions",
			ExternalID: padID(i), CommitSHA: "sha" + padID(i), Branch: "main",
			Status: statusFor(i),
		})
		require.NoError(t, err)

		ebID := scenarioID + ":" + buildID
		require.NoError(t, st.CreateEnrichmentBuild(store.EnrichmentBuild{ID: ebID, ScenarioID: scenarioID, BuildRunID: buildID, Status: "processed"}))
		require.NoError(t, st.UpsertFeatureVector(store.FeatureVector{
			ID: ebID + ":git_churn", ScenarioID: scenarioID, BuildRunID: buildID,
			FeatureName: "git_churn", Value: sql.NullString{String: padID(i), Valid: true},
		}))
	}
}

func statusFor(i int) string {
	if i%3 == 0 {
		return "failed"
	}
	return "passed"
}

func TestRunProducesCSVSplitsAndRecordsDatasetSplit(t *testing.T) {
	st := tempStore(t)
	seedScenario(t, st, "scn-1", 20)

	doc := scenario.Doc{
		Splitting: scenario.Splitting{
			Strategy: "stratified_within_group",
			GroupBy:  "language_group",
			Config:   scenario.SplittingConfig{Ratios: map[string]float64{"train": 0.6, "val": 0.2, "test": 0.2}, StratifyBy: "outcome"},
		},
		Preprocessing: scenario.Preprocessing{
			MissingFeatures: scenario.MissingFeatures{Strategy: "fill", FillValue: "0"},
			Normalization:   scenario.Normalization{Method: "none"},
		},
		Output: scenario.Output{Format: "csv"},
	}

	outputRoot := t.TempDir()
	rec, err := Run(context.Background(), st, "scn-1", doc, outputRoot)
	require.NoError(t, err)
	require.NotEmpty(t, rec.TrainPath)
	require.FileExists(t, rec.TrainPath)

	f, err := os.Open(rec.TrainPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.True(t, len(records) > 1, "expected a header row plus data rows")
	require.Contains(t, records[0], "git_churn")
	require.Contains(t, records[0], "outcome")

	latest, err := st.GetLatestDatasetSplit("scn-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, "stratified_within_group", latest.Strategy)
	require.NotEqual(t, "{}", latest.RowCounts)

	builds, err := st.ListEnrichmentBuildsForScenario("scn-1")
	require.NoError(t, err)
	for _, b := range builds {
		require.NotEmpty(t, b.SplitAssignment)
	}
}

func TestRunErrorsWithNoProcessedBuilds(t *testing.T) {
	st := tempStore(t)
	require.NoError(t, st.CreateScenario(store.Scenario{ID: "scn-empty", Name: "empty", YAML: "version: \"1.0\"\n"}))

	_, err := Run(context.Background(), st, "scn-empty", scenario.Doc{}, t.TempDir())
	require.Error(t, err)
}

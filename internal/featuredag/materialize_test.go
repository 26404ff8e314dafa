package featuredag

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/buildrisk/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func tempTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "featuredag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedScenarioAndBuild(t *testing.T, s *store.Store) (scenarioID, buildRunID string) {
	t.Helper()
	repoID := uuid.NewString()
	require.NoError(t, s.UpsertRepository(store.RawRepository{
		ID: repoID, Provider: "github", Owner: "acme", Name: "widget", CloneURL: "https://example.com/acme/widget.git",
	}))
	buildID, err := s.UpsertBuildRun(store.RawBuildRun{
		ID: uuid.NewString(), RepositoryID: repoID, Provider: "github_actions",
		ExternalID: "1", CommitSHA: "deadbeef", Status: "passed",
	})
	require.NoError(t, err)

	scenarioID = uuid.NewString()
	require.NoError(t, s.CreateScenario(store.Scenario{
		ID: scenarioID, Name: "test-scenario", YAML: "name: test-scenario", FeatureSet: `["*"]`,
		SplitStrategy: "stratified_within_group", Status: "processing",
	}))
	return scenarioID, buildID
}

func TestMaterializePersistsOkAndDegradedOutcomes(t *testing.T) {
	s := tempTestStore(t)
	scenarioID, buildRunID := seedScenarioAndBuild(t, s)

	outcomes := []NodeOutcome{
		{Feature: "git_commit_count", Result: Result{Value: 12}},
		{Feature: "tr_tests_run", Result: Result{Degraded: true, Reason: "missing_resource"}},
		{Feature: "tr_build_duration_s", Err: fmt.Errorf("parse failed")},
	}

	n := 0
	idFn := func() string { n++; return fmt.Sprintf("id-%d", n) }
	require.NoError(t, Materialize(s, scenarioID, buildRunID, outcomes, idFn))

	vectors, err := s.ListFeatureVectorsForBuild(scenarioID, buildRunID)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	byName := map[string]store.FeatureVector{}
	for _, v := range vectors {
		byName[v.FeatureName] = v
	}
	require.True(t, byName["git_commit_count"].Value.Valid)
	require.Equal(t, "12", byName["git_commit_count"].Value.String)
	require.False(t, byName["tr_tests_run"].Value.Valid)
	require.False(t, byName["tr_build_duration_s"].Value.Valid)

	audits, err := s.ListFeatureAuditForBuild(scenarioID, buildRunID)
	require.NoError(t, err)
	require.Len(t, audits, 3)

	auditByName := map[string]store.FeatureAuditLog{}
	for _, a := range audits {
		auditByName[a.FeatureName] = a
	}
	require.Equal(t, "ok", auditByName["git_commit_count"].Outcome)
	require.Equal(t, "missing_resource", auditByName["tr_tests_run"].Outcome)
	require.Equal(t, "error", auditByName["tr_build_duration_s"].Outcome)
	require.Equal(t, "parse failed", auditByName["tr_build_duration_s"].Detail)
}

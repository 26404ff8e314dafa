package scandispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

func TestHandleSonarWebhookBackfillsAndCompletesScan(t *testing.T) {
	s := tempScanStore(t)
	seedScanScenario(t, s)
	require.NoError(t, s.UpdateScenario("sc-1", map[string]any{"scans_total": 1}))
	require.NoError(t, s.RecordSonarScanPending(store.SonarScanPending{ID: "sp-1", RepositoryID: "repo-a", CommitSHA: "aaa111"}))

	counter := 0
	idFn := func() string { counter++; return "fv-x" + string(rune('0'+counter)) }

	err := HandleSonarWebhook(s, SonarWebhookPayload{
		ScenarioID:   "sc-1",
		RepositoryID: "repo-a",
		CommitSHA:    "aaa111",
		ComponentKey: "sc-1_acme_widgets_aaa111",
		Status:       "SUCCESS",
		Metrics:      map[string]string{"bugs": "2"},
	}, idFn)
	require.NoError(t, err)

	sc, err := s.GetScenario("sc-1")
	require.NoError(t, err)
	require.Equal(t, 1, sc.ScansCompleted)
	require.True(t, sc.ScanExtractionCompleted)
}

func TestHandleSonarWebhookErrorsWithoutPendingRow(t *testing.T) {
	s := tempScanStore(t)
	seedScanScenario(t, s)

	err := HandleSonarWebhook(s, SonarWebhookPayload{
		ScenarioID: "sc-1", RepositoryID: "repo-a", CommitSHA: "never-dispatched", Status: "SUCCESS",
	}, func() string { return "fv-1" })
	require.Error(t, err)
}

func TestHandleSonarWebhookFailureDoesNotBackfillButStillCompletes(t *testing.T) {
	s := tempScanStore(t)
	seedScanScenario(t, s)
	require.NoError(t, s.UpdateScenario("sc-1", map[string]any{"scans_total": 1}))
	require.NoError(t, s.RecordSonarScanPending(store.SonarScanPending{ID: "sp-2", RepositoryID: "repo-a", CommitSHA: "bbb222"}))

	err := HandleSonarWebhook(s, SonarWebhookPayload{
		ScenarioID: "sc-1", RepositoryID: "repo-a", CommitSHA: "bbb222", Status: "ERROR",
	}, func() string { return "fv-2" })
	require.NoError(t, err)

	sc, err := s.GetScenario("sc-1")
	require.NoError(t, err)
	require.Equal(t, 1, sc.ScansFailed)
}

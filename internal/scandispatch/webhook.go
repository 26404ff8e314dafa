package scandispatch

import (
	"fmt"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

// SonarWebhookPayload is the slice of a SonarQube analysis-complete webhook
// this platform reads. ScenarioID, RepositoryID and CommitSHA are present only
// when whoever builds the payload fills them: the sonar-project.properties
// file the dispatcher materializes (§4.7) sets only projectKey, sources and
// host.url.
type SonarWebhookPayload struct {
	ScenarioID   string
	RepositoryID string
	CommitSHA    string
	ComponentKey string
	Status       string // "SUCCESS" | "ERROR", per SonarQube's webhook contract
	Metrics      map[string]string
}

// HandleSonarWebhook resolves a SonarQube analysis-complete callback,
// verifies it matches an outstanding pending scan, backfills its metrics,
// and advances the scenario's scan counters (§4.7).
func HandleSonarWebhook(st *store.Store, payload SonarWebhookPayload, idFn func() string) error {
	pending, err := findPendingScan(st, payload.RepositoryID, payload.CommitSHA)
	if err != nil {
		return fmt.Errorf("scandispatch: webhook lookup: %w", err)
	}
	if pending == nil {
		return fmt.Errorf("scandispatch: webhook for %s: no pending sonar scan for (repo=%s, sha=%s)",
			payload.ComponentKey, payload.RepositoryID, payload.CommitSHA)
	}

	failed := payload.Status != "SUCCESS"
	if !failed {
		if err := BackfillMetrics(st, payload.ScenarioID, payload.RepositoryID, payload.CommitSHA, ToolSonar, payload.Metrics, idFn); err != nil {
			return err
		}
	}
	return CompleteScan(st, payload.ScenarioID, payload.RepositoryID, payload.CommitSHA, ToolSonar, failed)
}

func findPendingScan(st *store.Store, repositoryID, commitSHA string) (*store.SonarScanPending, error) {
	pending, err := st.ListExpiredSonarScans(0)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		if pending[i].RepositoryID == repositoryID && pending[i].CommitSHA == commitSHA {
			return &pending[i], nil
		}
	}
	return nil, nil
}

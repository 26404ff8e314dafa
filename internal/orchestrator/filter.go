package orchestrator

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

var botMarkers = []string{"[bot]", "dependabot", "renovate", "github-actions"}

// looksLikeBot is a conservative heuristic for data_source.builds.exclude_bots:
// the data model doesn't carry an actor field, so bot authorship is inferred
// from conventional bot branch naming used by the major CI bots.
func looksLikeBot(b store.RawBuildRun) bool {
	lower := strings.ToLower(b.Branch)
	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func repositoryMatches(r store.RawRepository, f scenario.RepositoryFilter) bool {
	switch f.FilterBy {
	case "", "all":
		return true
	case "languages":
		return containsFold(f.Languages, r.PrimaryLanguage)
	case "names":
		return containsFold(f.Names, r.Name) || containsFold(f.Names, r.FullName())
	case "owners":
		return containsFold(f.Owners, r.Owner)
	default:
		return true
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func buildMatches(b store.RawBuildRun, f scenario.BuildFilter) bool {
	if len(f.Conclusions) > 0 && !containsFold(f.Conclusions, b.Status) {
		return false
	}
	if f.ExcludeBots && looksLikeBot(b) {
		return false
	}
	if !f.DateRange.Start.IsZero() && b.StartedAt.Valid && b.StartedAt.Time.Before(f.DateRange.Start) {
		return false
	}
	if !f.DateRange.End.IsZero() && b.StartedAt.Valid && b.StartedAt.Time.After(f.DateRange.End) {
		return false
	}
	return true
}

// FilterCandidates implements §4.4 Phase 1: it matches RawRepository rows
// against data_source.repositories, then RawBuildRun rows within each match
// against data_source.builds and ci_provider, bulk-creating a pending
// IngestionBuild per matched build. Returns the count created.
func FilterCandidates(st *store.Store, scenarioID string, doc scenario.Doc) (int, error) {
	provider := doc.DataSource.CIProvider
	if provider == "all" {
		provider = ""
	}
	repos, err := st.ListRepositories("")
	if err != nil {
		return 0, fmt.Errorf("orchestrator: filter: list repositories: %w", err)
	}

	created := 0
	for _, repo := range repos {
		if !repositoryMatches(repo, doc.DataSource.Repositories) {
			continue
		}
		builds, err := st.ListBuildRunsForRepository(repo.ID)
		if err != nil {
			return created, fmt.Errorf("orchestrator: filter: list builds for %s: %w", repo.ID, err)
		}
		for _, b := range builds {
			if provider != "" && !strings.EqualFold(b.Provider, provider) {
				continue
			}
			if !buildMatches(b, doc.DataSource.Builds) {
				continue
			}
			if err := st.CreateIngestionBuild(store.IngestionBuild{
				ID:         scenarioID + ":" + b.ID,
				ScenarioID: scenarioID,
				BuildRunID: b.ID,
				Status:     "pending",
			}); err != nil {
				return created, fmt.Errorf("orchestrator: filter: create ingestion build: %w", err)
			}
			created++
		}
	}
	return created, nil
}

// Package splitter implements the Splitter & Exporter (C8): it assembles a
// Scenario's processed EnrichmentBuilds and their FeatureVectors into an
// in-memory frame, preprocesses it (missing-value handling, normalization),
// computes a grouping dimension, applies one of five splitting strategies,
// and exports one file per non-empty partition.
package splitter

import (
	"context"
	"fmt"
	"sort"

	"github.com/antigravity-dev/buildrisk/internal/store"
)

// Row is one EnrichmentBuild's materialized record: identity columns plus
// every extracted feature value (including scan metrics, which share the
// same feature_vectors table under a sonar_/trivy_ prefix).
type Row struct {
	EnrichmentBuildID string
	BuildRunID        string
	RepoFullName      string
	Owner             string
	PrimaryLanguage   string
	CIProvider        string
	Outcome           string // "passed" | "failed", folded from raw_build_runs.status
	StartedAtUnix     int64
	Group             string // filled by computeGroups
	Split             string // "" (excluded), "train", "validation", or "test"
	Seq               int    // deterministic ordering key consumed by assignByRatio
	Features          map[string]string
}

// Frame is the full in-memory dataset a scenario's splitter pass operates on.
type Frame struct {
	Rows         []*Row
	FeatureNames []string // sorted union of every feature name present across Rows
}

// foldOutcome normalizes raw_build_runs.status into the two
// labels the dataset's outcome column and stratification care about; every
// non-passed terminal status counts as failed (§4.8 stratify_by=outcome).
func foldOutcome(status string) string {
	if status == "passed" {
		return "passed"
	}
	return "failed"
}

// loadFrame reads every processed EnrichmentBuild for a scenario along with
// its FeatureVectors and assembles the frame the rest of the package
// operates on.
func loadFrame(_ context.Context, st *store.Store, scenarioID string) (*Frame, error) {
	builds, err := st.ListEnrichmentBuildsForScenario(scenarioID)
	if err != nil {
		return nil, fmt.Errorf("splitter: list enrichment builds: %w", err)
	}

	featureSet := make(map[string]bool)
	var rows []*Row
	for _, eb := range builds {
		if eb.Status != "processed" {
			continue
		}
		br, err := st.GetBuildRun(eb.BuildRunID)
		if err != nil || br == nil {
			continue
		}
		repo, err := st.GetRepository(br.RepositoryID)
		if err != nil || repo == nil {
			continue
		}
		vectors, err := st.ListFeatureVectorsForBuild(scenarioID, eb.BuildRunID)
		if err != nil {
			return nil, fmt.Errorf("splitter: list feature vectors for %s: %w", eb.BuildRunID, err)
		}

		row := &Row{
			EnrichmentBuildID: eb.ID,
			BuildRunID:        br.ID,
			RepoFullName:      repo.FullName(),
			Owner:             repo.Owner,
			PrimaryLanguage:   repo.PrimaryLanguage,
			CIProvider:        br.Provider,
			Outcome:           foldOutcome(br.Status),
			Features:          make(map[string]string, len(vectors)),
		}
		if br.StartedAt.Valid {
			row.StartedAtUnix = br.StartedAt.Time.Unix()
		}
		for _, v := range vectors {
			featureSet[v.FeatureName] = true
			if v.Value.Valid {
				row.Features[v.FeatureName] = v.Value.String
			}
			// absent from the map means missing/degraded; preprocess.go tells
			// the difference from an empty-but-present string via this map.
		}
		rows = append(rows, row)
	}

	names := make([]string, 0, len(featureSet))
	for name := range featureSet {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Frame{Rows: rows, FeatureNames: names}, nil
}

// value returns a row's value for a feature column and whether it was present.
func (r *Row) value(name string) (string, bool) {
	v, ok := r.Features[name]
	return v, ok
}

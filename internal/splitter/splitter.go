package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
	"github.com/antigravity-dev/buildrisk/internal/store"
)

// Run implements §4.8 end to end for one scenario: load every processed
// EnrichmentBuild with its FeatureVectors, preprocess (missing-value
// handling + normalization), compute the grouping dimension, apply the
// configured splitting strategy, write one file per non-empty partition
// under outputRoot/<scenarioID>/, and record the resulting DatasetSplit row.
// It also persists each EnrichmentBuild's split_assignment.
func Run(ctx context.Context, st *store.Store, scenarioID string, doc scenario.Doc, outputRoot string) (store.DatasetSplit, error) {
	frame, err := loadFrame(ctx, st, scenarioID)
	if err != nil {
		return store.DatasetSplit{}, err
	}
	if len(frame.Rows) == 0 {
		return store.DatasetSplit{}, fmt.Errorf("splitter: scenario %s has no processed builds to split", scenarioID)
	}

	applyMissingFeatures(frame, doc.Preprocessing.MissingFeatures)
	if len(frame.Rows) == 0 {
		return store.DatasetSplit{}, fmt.Errorf("splitter: scenario %s: drop_row left no rows", scenarioID)
	}
	applyNormalization(frame, doc.Preprocessing.Normalization.Method)

	groupBy := doc.Splitting.GroupBy
	if groupBy == "" {
		groupBy = "language_group"
	}
	if err := computeGroups(frame, groupBy); err != nil {
		return store.DatasetSplit{}, err
	}

	assignSequence(frame, doc.Splitting.TemporalOrdering)

	if err := applySplitting(frame, doc); err != nil {
		return store.DatasetSplit{}, err
	}

	for _, row := range frame.Rows {
		if err := st.UpdateEnrichmentBuildSplit(row.EnrichmentBuildID, row.Split); err != nil {
			return store.DatasetSplit{}, fmt.Errorf("splitter: persist split assignment for %s: %w", row.EnrichmentBuildID, err)
		}
	}

	format := doc.Output.Format
	if format == "" {
		format = "csv"
	}
	cols := exportColumns(frame, doc.Output.IncludeMetadata)
	outputDir := filepath.Join(outputRoot, scenarioID)

	rowCounts := map[string]int{}
	classDist := map[string]map[string]int{}
	groupDist := map[string]map[string]int{}
	fileSizes := map[string]int64{}
	paths := map[string]string{}

	for _, split := range []string{"train", "validation", "test"} {
		rows := rowsInSplit(frame, split)
		if len(rows) == 0 {
			continue
		}
		rowCounts[split] = len(rows)
		classDist[split] = tally(rows, func(r *Row) string { return r.Outcome })
		groupDist[split] = tally(rows, func(r *Row) string { return r.Group })

		path, size, err := writeSplit(rows, cols, format, outputDir, split)
		if err != nil {
			return store.DatasetSplit{}, err
		}
		paths[split] = path
		fileSizes[split] = size
	}

	rowCountsJSON, _ := json.Marshal(rowCounts)
	classDistJSON, _ := json.Marshal(classDist)
	groupDistJSON, _ := json.Marshal(groupDist)
	fileSizesJSON, _ := json.Marshal(fileSizes)

	record := store.DatasetSplit{
		ID:                "split-" + uuid.NewString(),
		ScenarioID:        scenarioID,
		Strategy:          doc.Splitting.Strategy,
		TrainPath:         paths["train"],
		ValPath:           paths["validation"],
		TestPath:          paths["test"],
		RowCounts:         string(rowCountsJSON),
		ClassDistribution: string(classDistJSON),
		GroupDistribution: string(groupDistJSON),
		FileSizes:         string(fileSizesJSON),
	}
	if err := st.RecordDatasetSplit(record); err != nil {
		return store.DatasetSplit{}, err
	}
	return record, nil
}

func rowsInSplit(f *Frame, split string) []*Row {
	var out []*Row
	for _, row := range f.Rows {
		if row.Split == split {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func tally(rows []*Row, key func(*Row) string) map[string]int {
	out := make(map[string]int)
	for _, row := range rows {
		out[key(row)]++
	}
	return out
}

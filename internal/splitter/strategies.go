package splitter

import (
	"fmt"
	"sort"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
)

// stratifyLabel resolves the value a stratified split groups rows by:
// "outcome" (or an empty stratify_by) uses the build's pass/fail outcome,
// anything else is looked up as a feature column.
func stratifyLabel(row *Row, stratifyBy string) string {
	if stratifyBy == "" || stratifyBy == "outcome" {
		return row.Outcome
	}
	v, _ := row.value(stratifyBy)
	return v
}

// ratioSplitLabels maps normalized train/val/test ratios onto
// EnrichmentBuild.split_assignment's three labels, defaulting to an 80/10/10
// split when the scenario leaves Config.Ratios empty.
func ratioSplitLabels(ratios map[string]float64) (train, val, test float64) {
	train, val, test = ratios["train"], ratios["val"], ratios["test"]
	total := train + val + test
	if total <= 0 {
		return 0.8, 0.1, 0.1
	}
	return train / total, val / total, test / total
}

// assignByRatio deterministically distributes rows into train/validation/test
// according to normalized ratios. Sorting by Seq (build_started_at order
// under temporal_ordering, build_run_id otherwise) before slicing keeps the
// assignment reproducible across runs without relying on a seeded PRNG.
func assignByRatio(rows []*Row, ratios map[string]float64) {
	sorted := make([]*Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	train, val, test := ratioSplitLabels(ratios)
	n := len(sorted)
	nTrain := int(float64(n) * train)
	nVal := int(float64(n) * val)
	switch {
	case nTrain+nVal > n:
		nVal = n - nTrain
	case test == 0:
		// No test partition requested (e.g. extreme_novelty's remainder):
		// rounding remainders go to val rather than leaking into test.
		nVal = n - nTrain
	}
	for i, row := range sorted {
		switch {
		case i < nTrain:
			row.Split = "train"
		case i < nTrain+nVal:
			row.Split = "validation"
		default:
			row.Split = "test"
		}
	}
}

// stratifiedSplit buckets rows by label, then ratio-splits each bucket
// independently so every partition preserves the overall label distribution.
func stratifiedSplit(rows []*Row, labelFn func(*Row) string, ratios map[string]float64) {
	byLabel := make(map[string][]*Row)
	for _, row := range rows {
		byLabel[labelFn(row)] = append(byLabel[labelFn(row)], row)
	}
	for _, bucket := range byLabel {
		assignByRatio(bucket, ratios)
	}
}

// applyStratifiedWithinGroup implements §4.8's stratified_within_group:
// within each group, stratified split by stratify_by at the configured
// ratios; groups with fewer than 3 rows go entirely to train.
func applyStratifiedWithinGroup(f *Frame, cfg scenario.SplittingConfig) {
	byGroup, names := groupedRows(f)
	for _, name := range names {
		rows := byGroup[name]
		if len(rows) < 3 {
			for _, row := range rows {
				row.Split = "train"
			}
			continue
		}
		stratifiedSplit(rows, func(r *Row) string { return stratifyLabel(r, cfg.StratifyBy) }, cfg.Ratios)
	}
}

// applyLeaveOneOut implements §4.8's leave_one_out: one group to test, one
// to val, the rest to train. Falls back to stratified_within_group below 3
// groups.
func applyLeaveOneOut(f *Frame, cfg scenario.SplittingConfig) {
	_, names := groupedRows(f)
	if len(names) < 3 {
		applyStratifiedWithinGroup(f, cfg)
		return
	}
	testGroup, valGroup := pickTwo(names, cfg.TestGroup, cfg.ValGroup)
	assignGroupsWholesale(f, map[string]string{testGroup: "test", valGroup: "validation"}, "train")
}

// applyLeaveTwoOut implements §4.8's leave_two_out: two groups to test, one
// to val, the rest to train. Falls back below 4 groups.
func applyLeaveTwoOut(f *Frame, cfg scenario.SplittingConfig) {
	_, names := groupedRows(f)
	if len(names) < 4 {
		applyStratifiedWithinGroup(f, cfg)
		return
	}

	testGroups := cfg.TestGroups
	if len(testGroups) < 2 {
		testGroups = names[:2]
	}
	remaining := subtract(names, testGroups)
	valGroup := cfg.ValGroup
	if valGroup == "" || contains(testGroups, valGroup) {
		if len(remaining) > 0 {
			valGroup = remaining[0]
		}
	}

	assignment := map[string]string{valGroup: "validation"}
	for _, g := range testGroups {
		assignment[g] = "test"
	}
	assignGroupsWholesale(f, assignment, "train")
}

// applyImbalancedTrain implements §4.8's imbalanced_train: stratified split
// per group as usual, then within each group's train partition, drop
// reduce_ratio of rows whose stratify_by label equals reduce_label. Val/test
// are untouched. Dropped rows get Split="" and are excluded from export.
func applyImbalancedTrain(f *Frame, cfg scenario.SplittingConfig) {
	applyStratifiedWithinGroup(f, cfg)

	byGroup, names := groupedRows(f)
	for _, name := range names {
		var matching []*Row
		for _, row := range byGroup[name] {
			if row.Split == "train" && stratifyLabel(row, cfg.StratifyBy) == cfg.ReduceLabel {
				matching = append(matching, row)
			}
		}
		if len(matching) == 0 || cfg.ReduceRatio <= 0 {
			continue
		}
		sort.Slice(matching, func(i, j int) bool { return matching[i].Seq < matching[j].Seq })
		drop := int(float64(len(matching)) * cfg.ReduceRatio)
		for i := 0; i < drop && i < len(matching); i++ {
			matching[i].Split = ""
		}
	}
}

// applyExtremeNovelty implements §4.8's extreme_novelty: every row whose
// (group, stratify_by label) equals (novelty_group, novelty_label) goes to
// test; the remainder is stratified across train/val only (test ratio 0).
func applyExtremeNovelty(f *Frame, cfg scenario.SplittingConfig) {
	var remainder []*Row
	for _, row := range f.Rows {
		if row.Group == cfg.NoveltyGroup && stratifyLabel(row, cfg.StratifyBy) == cfg.NoveltyLabel {
			row.Split = "test"
			continue
		}
		remainder = append(remainder, row)
	}
	ratios := make(map[string]float64, len(cfg.Ratios))
	for k, v := range cfg.Ratios {
		ratios[k] = v
	}
	ratios["test"] = 0
	stratifiedSplit(remainder, func(r *Row) string { return stratifyLabel(r, cfg.StratifyBy) }, ratios)
}

func assignGroupsWholesale(f *Frame, assignment map[string]string, defaultSplit string) {
	for _, row := range f.Rows {
		if split, ok := assignment[row.Group]; ok {
			row.Split = split
		} else {
			row.Split = defaultSplit
		}
	}
}

func pickTwo(names []string, test, val string) (string, string) {
	if test == "" {
		test = names[0]
	}
	if val == "" || val == test {
		for _, n := range names {
			if n != test {
				val = n
				break
			}
		}
	}
	return test, val
}

func subtract(all, remove []string) []string {
	rm := make(map[string]bool, len(remove))
	for _, r := range remove {
		rm[r] = true
	}
	var out []string
	for _, n := range all {
		if !rm[n] {
			out = append(out, n)
		}
	}
	return out
}

// applySplitting dispatches to the strategy named by doc.Splitting.Strategy.
func applySplitting(f *Frame, doc scenario.Doc) error {
	cfg := doc.Splitting.Config
	switch doc.Splitting.Strategy {
	case "", "stratified_within_group":
		applyStratifiedWithinGroup(f, cfg)
	case "leave_one_out":
		applyLeaveOneOut(f, cfg)
	case "leave_two_out":
		applyLeaveTwoOut(f, cfg)
	case "imbalanced_train":
		applyImbalancedTrain(f, cfg)
	case "extreme_novelty":
		applyExtremeNovelty(f, cfg)
	default:
		return fmt.Errorf("splitter: unsupported strategy %q", doc.Splitting.Strategy)
	}
	return nil
}

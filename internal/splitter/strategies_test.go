package splitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
)

func buildFrame(n int, group string, outcomeEvery int) *Frame {
	rows := make([]*Row, 0, n)
	for i := 0; i < n; i++ {
		outcome := "passed"
		if outcomeEvery > 0 && i%outcomeEvery == 0 {
			outcome = "failed"
		}
		rows = append(rows, &Row{
			BuildRunID: padID(i),
			Group:      group,
			Outcome:    outcome,
			Seq:        i,
			Features:   map[string]string{},
		})
	}
	return &Frame{Rows: rows}
}

func padID(i int) string {
	digits := "0123456789"
	return string(digits[i/10%10]) + string(digits[i%10])
}

func TestStratifiedWithinGroupPushesSmallGroupsToTrain(t *testing.T) {
	f := buildFrame(2, "alpha", 0)
	applyStratifiedWithinGroup(f, scenario.SplittingConfig{Ratios: map[string]float64{"train": 0.5, "val": 0.25, "test": 0.25}})
	for _, row := range f.Rows {
		require.Equal(t, "train", row.Split)
	}
}

func TestStratifiedWithinGroupSplitsAtConfiguredRatios(t *testing.T) {
	f := buildFrame(20, "alpha", 0)
	applyStratifiedWithinGroup(f, scenario.SplittingConfig{
		Ratios:     map[string]float64{"train": 0.5, "val": 0.25, "test": 0.25},
		StratifyBy: "outcome",
	})
	counts := map[string]int{}
	for _, row := range f.Rows {
		counts[row.Split]++
	}
	require.Equal(t, 10, counts["train"])
	require.Equal(t, 5, counts["validation"])
	require.Equal(t, 5, counts["test"])
}

func TestLeaveOneOutFallsBackBelowThreeGroups(t *testing.T) {
	f := &Frame{Rows: append(buildFrame(4, "a", 0).Rows, buildFrame(4, "b", 0).Rows...)}
	applyLeaveOneOut(f, scenario.SplittingConfig{Ratios: map[string]float64{"train": 0.5, "val": 0.25, "test": 0.25}})
	for _, row := range f.Rows {
		require.NotEmpty(t, row.Split)
	}
}

func TestLeaveOneOutAssignsWholeGroups(t *testing.T) {
	var rows []*Row
	for _, g := range []string{"a", "b", "c"} {
		rows = append(rows, buildFrame(3, g, 0).Rows...)
	}
	f := &Frame{Rows: rows}
	applyLeaveOneOut(f, scenario.SplittingConfig{TestGroup: "a", ValGroup: "b"})
	for _, row := range f.Rows {
		switch row.Group {
		case "a":
			require.Equal(t, "test", row.Split)
		case "b":
			require.Equal(t, "validation", row.Split)
		case "c":
			require.Equal(t, "train", row.Split)
		}
	}
}

func TestLeaveTwoOutAssignsTwoTestGroups(t *testing.T) {
	var rows []*Row
	for _, g := range []string{"a", "b", "c", "d"} {
		rows = append(rows, buildFrame(3, g, 0).Rows...)
	}
	f := &Frame{Rows: rows}
	applyLeaveTwoOut(f, scenario.SplittingConfig{TestGroups: []string{"a", "b"}, ValGroup: "c"})
	for _, row := range f.Rows {
		switch row.Group {
		case "a", "b":
			require.Equal(t, "test", row.Split)
		case "c":
			require.Equal(t, "validation", row.Split)
		case "d":
			require.Equal(t, "train", row.Split)
		}
	}
}

func TestImbalancedTrainDropsReduceLabelRowsFromTrainOnly(t *testing.T) {
	f := buildFrame(20, "alpha", 2) // every other row outcome="failed"
	cfg := scenario.SplittingConfig{
		Ratios:      map[string]float64{"train": 1.0},
		StratifyBy:  "outcome",
		ReduceLabel: "failed",
		ReduceRatio: 1.0,
	}
	applyImbalancedTrain(f, cfg)
	for _, row := range f.Rows {
		if row.Outcome == "failed" {
			require.Equal(t, "", row.Split, "every failed row should be dropped from the all-train group")
		}
	}
}

func TestExtremeNoveltyRoutesMatchingRowsToTest(t *testing.T) {
	f := buildFrame(10, "novel", 0)
	for _, row := range f.Rows[:3] {
		row.Outcome = "failed"
	}
	cfg := scenario.SplittingConfig{
		Ratios:       map[string]float64{"train": 0.7, "val": 0.3},
		StratifyBy:   "outcome",
		NoveltyGroup: "novel",
		NoveltyLabel: "failed",
	}
	applyExtremeNovelty(f, cfg)
	for _, row := range f.Rows[:3] {
		require.Equal(t, "test", row.Split)
	}
	for _, row := range f.Rows[3:] {
		require.NotEqual(t, "test", row.Split)
	}
}

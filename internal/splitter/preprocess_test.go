package splitter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/scenario"
)

func rowWith(id string, features map[string]string) *Row {
	return &Row{EnrichmentBuildID: id, BuildRunID: id, Features: features}
}

func TestApplyMissingFeaturesFillSubstitutes(t *testing.T) {
	f := &Frame{
		FeatureNames: []string{"git_churn"},
		Rows: []*Row{
			rowWith("b1", map[string]string{"git_churn": "5"}),
			rowWith("b2", map[string]string{}),
		},
	}
	applyMissingFeatures(f, scenario.MissingFeatures{Strategy: "fill", FillValue: "0"})
	require.Equal(t, "0", f.Rows[1].Features["git_churn"])
	require.Len(t, f.Rows, 2)
}

func TestApplyMissingFeaturesDropRowRemovesIncompleteRows(t *testing.T) {
	f := &Frame{
		FeatureNames: []string{"git_churn"},
		Rows: []*Row{
			rowWith("b1", map[string]string{"git_churn": "5"}),
			rowWith("b2", map[string]string{}),
		},
	}
	applyMissingFeatures(f, scenario.MissingFeatures{Strategy: "drop_row"})
	require.Len(t, f.Rows, 1)
	require.Equal(t, "b1", f.Rows[0].BuildRunID)
}

func TestApplyMissingFeaturesSkipFeatureDropsColumn(t *testing.T) {
	f := &Frame{
		FeatureNames: []string{"git_churn", "tr_test_count"},
		Rows: []*Row{
			rowWith("b1", map[string]string{"git_churn": "5", "tr_test_count": "3"}),
			rowWith("b2", map[string]string{"tr_test_count": "4"}),
		},
	}
	applyMissingFeatures(f, scenario.MissingFeatures{Strategy: "skip_feature"})
	require.Equal(t, []string{"tr_test_count"}, f.FeatureNames)
	_, present := f.Rows[0].Features["git_churn"]
	require.False(t, present, "dropped column must be removed from every row")
}

func TestApplyNormalizationMinMax(t *testing.T) {
	f := &Frame{
		FeatureNames: []string{"n"},
		Rows: []*Row{
			rowWith("b1", map[string]string{"n": "0"}),
			rowWith("b2", map[string]string{"n": "5"}),
			rowWith("b3", map[string]string{"n": "10"}),
		},
	}
	applyNormalization(f, "minmax")
	require.Equal(t, "0", f.Rows[0].Features["n"])
	require.Equal(t, "0.5", f.Rows[1].Features["n"])
	require.Equal(t, "1", f.Rows[2].Features["n"])
}

func TestApplyNormalizationSkipsNonNumericColumns(t *testing.T) {
	f := &Frame{
		FeatureNames: []string{"branch_name"},
		Rows: []*Row{
			rowWith("b1", map[string]string{"branch_name": "main"}),
			rowWith("b2", map[string]string{"branch_name": "feature/x"}),
		},
	}
	applyNormalization(f, "zscore")
	require.Equal(t, "main", f.Rows[0].Features["branch_name"])
}

func TestApplyNormalizationNoneIsNoop(t *testing.T) {
	f := &Frame{
		FeatureNames: []string{"n"},
		Rows:         []*Row{rowWith("b1", map[string]string{"n": "7"})},
	}
	applyNormalization(f, "none")
	require.Equal(t, "7", f.Rows[0].Features["n"])
}

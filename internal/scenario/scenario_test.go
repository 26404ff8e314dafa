package scenario

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

const sampleYAML = `
version: "1.0"
data_source:
  repositories:
    filter_by: languages
    languages: [go, python]
  builds:
    conclusions: [success, failure]
    exclude_bots: true
  ci_provider: github_actions
features:
  dag_features: ["git_*", "tr_test_count"]
  scan_metrics:
    sonarqube: [bugs, vulnerabilities]
    trivy: [critical_count]
  exclude: ["git_churn_raw"]
splitting:
  strategy: stratified_within_group
  group_by: language_group
  config:
    ratios: {train: 0.8, val: 0.1, test: 0.1}
    stratify_by: outcome
  temporal_ordering: true
preprocessing:
  missing_features: {strategy: fill, fill_value: "0"}
  normalization: {method: zscore}
output:
  format: parquet
`

func TestParseDecodesFullDocument(t *testing.T) {
	doc, err := Parse(sampleYAML)
	require.NoError(t, err)
	require.Equal(t, "languages", doc.DataSource.Repositories.FilterBy)
	require.ElementsMatch(t, []string{"go", "python"}, doc.DataSource.Repositories.Languages)
	require.True(t, doc.DataSource.Builds.ExcludeBots)
	require.Equal(t, "stratified_within_group", doc.Splitting.Strategy)
	require.Equal(t, "language_group", doc.Splitting.GroupBy)
	require.InDelta(t, 0.8, doc.Splitting.Config.Ratios["train"], 0.0001)
	require.Equal(t, "zscore", doc.Preprocessing.Normalization.Method)
	require.Equal(t, "parquet", doc.Output.Format)
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse("not: [valid")
	require.Error(t, err)
	require.Equal(t, pipelineerr.KindConfiguration, pipelineerr.KindOf(err))
}

func TestParseRejectsUnknownStrategy(t *testing.T) {
	_, err := Parse("splitting:\n  strategy: coin_flip\n")
	require.Error(t, err)
	require.Equal(t, pipelineerr.KindConfiguration, pipelineerr.KindOf(err))
}

func TestParseRejectsUnknownGroupBy(t *testing.T) {
	_, err := Parse("splitting:\n  strategy: leave_one_out\n  group_by: phase_of_moon\n")
	require.Error(t, err)
}

func TestParseRejectsUnknownOutputFormat(t *testing.T) {
	_, err := Parse("output:\n  format: xml\n")
	require.Error(t, err)
}

func TestResolveFeaturesAppliesExclude(t *testing.T) {
	doc, err := Parse(sampleYAML)
	require.NoError(t, err)

	expand := func(patterns []string) ([]string, error) {
		return []string{"git_churn_raw", "git_commit_count", "tr_test_count"}, nil
	}
	out, err := ResolveFeatures(expand, doc)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"git_commit_count", "tr_test_count"}, out)
}

func TestResolveFeaturesPropagatesExpandError(t *testing.T) {
	doc, err := Parse(sampleYAML)
	require.NoError(t, err)

	_, err = ResolveFeatures(func([]string) ([]string, error) {
		return nil, errors.New("unknown feature")
	}, doc)
	require.Error(t, err)
	require.Equal(t, pipelineerr.KindConfiguration, pipelineerr.KindOf(err))
}

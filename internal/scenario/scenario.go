// Package scenario parses and validates a Scenario's raw YAML document (§6)
// into the typed configuration the orchestrator, feature engine, scan
// dispatcher, and splitter each consume a slice of. Unknown top-level keys
// are preserved on the stored YAML verbatim but otherwise ignored here.
package scenario

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

// Doc is the parsed shape of a scenario's YAML document (§6).
type Doc struct {
	Version     string      `yaml:"version"`
	DataSource  DataSource  `yaml:"data_source"`
	Features    Features    `yaml:"features"`
	Splitting   Splitting   `yaml:"splitting"`
	Preprocessing Preprocessing `yaml:"preprocessing"`
	Output      Output      `yaml:"output"`
}

// DataSource selects candidate repositories and builds (§4.4 Phase 1).
type DataSource struct {
	Repositories RepositoryFilter `yaml:"repositories"`
	Builds       BuildFilter      `yaml:"builds"`
	CIProvider   string           `yaml:"ci_provider"` // "all" or a named provider
}

// RepositoryFilter narrows candidate repositories.
type RepositoryFilter struct {
	FilterBy  string   `yaml:"filter_by"` // "languages" | "names" | "owners"
	Languages []string `yaml:"languages"`
	Names     []string `yaml:"names"`
	Owners    []string `yaml:"owners"`
}

// BuildFilter narrows candidate builds within the matched repositories.
type BuildFilter struct {
	DateRange    DateRange `yaml:"date_range"`
	Conclusions  []string  `yaml:"conclusions"`
	ExcludeBots  bool      `yaml:"exclude_bots"`
}

// DateRange bounds BuildFilter; either bound may be zero meaning unbounded.
type DateRange struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

// Features selects the DAG feature set and scan metrics/config (§4.6, §4.7).
type Features struct {
	DAGFeatures []string          `yaml:"dag_features"`
	ScanMetrics ScanMetrics       `yaml:"scan_metrics"`
	Exclude     []string          `yaml:"exclude"`
	ScanConfig  ScanConfig        `yaml:"scan_config"`
}

// ScanMetrics names which scan tools (and which of their metrics) are wanted.
type ScanMetrics struct {
	Sonarqube []string `yaml:"sonarqube"`
	Trivy     []string `yaml:"trivy"`
}

// ScanConfig carries the per-repo tool overrides scandispatch materializes to disk.
type ScanConfig struct {
	Sonarqube ToolConfig `yaml:"sonarqube"`
	Trivy     ToolConfig `yaml:"trivy"`
}

// ToolConfig maps a raw_repo_id to its tool-specific override document.
type ToolConfig struct {
	Repos map[string]map[string]any `yaml:"repos"`
}

// Splitting selects one of the five splitting strategies (§4.8).
type Splitting struct {
	Strategy         string          `yaml:"strategy"`
	GroupBy          string          `yaml:"group_by"`
	Config           SplittingConfig `yaml:"config"`
	TemporalOrdering bool            `yaml:"temporal_ordering"`
}

// SplittingConfig holds the union of every strategy's parameters; only the
// fields relevant to Splitting.Strategy are consulted.
type SplittingConfig struct {
	Ratios map[string]float64 `yaml:"ratios"` // train/val/test, consulted by every ratio-based strategy

	StratifyBy string `yaml:"stratify_by"` // stratified_within_group, imbalanced_train, extreme_novelty's remainder

	// leave_one_out: explicit group assignment; if either is empty the
	// group ordering supplies first/second/rest automatically.
	TestGroup string `yaml:"test_group"`
	ValGroup  string `yaml:"val_group"`

	// leave_two_out: two groups to test, one to val; remainder trains.
	TestGroups []string `yaml:"test_groups"`

	// imbalanced_train: within each group's train partition, drop this
	// fraction of rows whose outcome equals ReduceLabel.
	ReduceLabel string  `yaml:"reduce_label"`
	ReduceRatio float64 `yaml:"reduce_ratio"`

	// extreme_novelty: rows whose (group dimension value, stratify_by
	// value) equals (NoveltyGroup, NoveltyLabel) go to test wholesale.
	NoveltyGroup string `yaml:"novelty_group"`
	NoveltyLabel string `yaml:"novelty_label"`
}

// Preprocessing configures missing-value handling and normalization (§4.8).
type Preprocessing struct {
	MissingFeatures MissingFeatures `yaml:"missing_features"`
	Normalization   Normalization   `yaml:"normalization"`
	StrictMode      bool            `yaml:"strict_mode"`
}

// MissingFeatures picks the imputation strategy for absent feature values.
type MissingFeatures struct {
	Strategy  string `yaml:"strategy"` // "drop_row" | "fill" | "skip_feature"
	FillValue string `yaml:"fill_value"`
}

// Normalization picks the column-scaling method applied before export.
type Normalization struct {
	Method string `yaml:"method"` // "none" | "minmax" | "zscore" | "robust" | "maxabs" | "log1p" | "decimal"
}

// Output selects the export format for split files (§4.8, §6).
type Output struct {
	Format          string `yaml:"format"` // "csv" | "parquet" | "pickle"
	IncludeMetadata bool   `yaml:"include_metadata"`
}

var validStrategies = map[string]bool{
	"stratified_within_group": true,
	"leave_one_out":           true,
	"leave_two_out":           true,
	"imbalanced_train":        true,
	"extreme_novelty":         true,
}

var validGroupBy = map[string]bool{
	"language_group":              true,
	"percentage_of_builds_before": true,
	"number_of_builds_before":     true,
	"time_of_day":                 true,
}

var validFormats = map[string]bool{"csv": true, "parquet": true, "pickle": true}

var validMissingStrategies = map[string]bool{"drop_row": true, "fill": true, "skip_feature": true}

var validNormalizations = map[string]bool{
	"none": true, "minmax": true, "zscore": true, "robust": true, "maxabs": true, "log1p": true, "decimal": true,
}

// Parse decodes and validates raw scenario YAML, returning a configuration
// error (pipelineerr.KindConfiguration) for anything the scenario record
// should never leave `queued` over: invalid YAML, an unknown splitting
// strategy/dimension, or an unknown output format.
func Parse(raw string) (Doc, error) {
	var doc Doc
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return Doc{}, pipelineerr.New(pipelineerr.KindConfiguration, "parse", err)
	}
	if doc.Splitting.Strategy != "" && !validStrategies[doc.Splitting.Strategy] {
		return Doc{}, pipelineerr.New(pipelineerr.KindConfiguration, "splitting.strategy", fmt.Errorf("unknown strategy %q", doc.Splitting.Strategy))
	}
	if doc.Splitting.GroupBy != "" && !validGroupBy[doc.Splitting.GroupBy] {
		return Doc{}, pipelineerr.New(pipelineerr.KindConfiguration, "splitting.group_by", fmt.Errorf("unknown dimension %q", doc.Splitting.GroupBy))
	}
	if doc.Output.Format != "" && !validFormats[doc.Output.Format] {
		return Doc{}, pipelineerr.New(pipelineerr.KindConfiguration, "output.format", fmt.Errorf("unknown format %q", doc.Output.Format))
	}
	if s := doc.Preprocessing.MissingFeatures.Strategy; s != "" && !validMissingStrategies[s] {
		return Doc{}, pipelineerr.New(pipelineerr.KindConfiguration, "preprocessing.missing_features.strategy", fmt.Errorf("unknown strategy %q", s))
	}
	if m := doc.Preprocessing.Normalization.Method; m != "" && !validNormalizations[m] {
		return Doc{}, pipelineerr.New(pipelineerr.KindConfiguration, "preprocessing.normalization.method", fmt.Errorf("unknown method %q", m))
	}
	return doc, nil
}

// ResolveFeatures expands Features.DAGFeatures against a registry's Expand
// method, applying Features.Exclude afterward. The registry parameter is
// typed as an interface here so this package need not import featuredag.
func ResolveFeatures(expand func([]string) ([]string, error), doc Doc) ([]string, error) {
	expanded, err := expand(doc.Features.DAGFeatures)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindConfiguration, "features.dag_features", err)
	}
	if len(doc.Features.Exclude) == 0 {
		return expanded, nil
	}
	excluded := make(map[string]bool, len(doc.Features.Exclude))
	for _, name := range doc.Features.Exclude {
		excluded[name] = true
	}
	out := make([]string, 0, len(expanded))
	for _, name := range expanded {
		if !excluded[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

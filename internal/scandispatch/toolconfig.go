package scandispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaterializeToolConfig writes the per-repo-or-default tool configuration
// file at the deterministic path §6 names:
// scan-config/<scenario_id>/<raw_repo_id>/{trivy.yaml,sonar-project.properties}.
// If the file already exists it is left untouched — materialization is
// idempotent so redispatch (RetryCommitScan) doesn't clobber a config a
// running scan may have already read.
func MaterializeToolConfig(scanConfigRoot, scenarioID, rawRepoID string, tool Tool, override map[string]any) (string, error) {
	dir := filepath.Join(scanConfigRoot, scenarioID, rawRepoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("scandispatch: materialize tool config: %w", err)
	}

	var filename string
	var content string
	switch tool {
	case ToolSonar:
		filename = "sonar-project.properties"
		content = renderSonarProperties(rawRepoID, override)
	case ToolTrivy:
		filename = "trivy.yaml"
		content = renderTrivyYAML(override)
	default:
		return "", fmt.Errorf("scandispatch: unknown tool %q", tool)
	}

	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("scandispatch: write tool config %s: %w", path, err)
	}
	return path, nil
}

// renderSonarProperties builds a minimal sonar-project.properties, applying
// any scenario-declared extraProperties on top of the defaults.
func renderSonarProperties(rawRepoID string, override map[string]any) string {
	props := map[string]string{
		"sonar.projectKey":   rawRepoID,
		"sonar.sources":      ".",
		"sonar.host.url":     "http://localhost:9000",
	}
	for k, v := range override {
		props[k] = fmt.Sprintf("%v", v)
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, props[k])
	}
	return b.String()
}

// renderTrivyYAML builds a minimal trivy.yaml scan config, applying any
// scenario-declared overrides as top-level keys.
func renderTrivyYAML(override map[string]any) string {
	lines := []string{
		"scan:",
		"  security-checks: vuln,config,secret",
		"format: json",
	}
	keys := make([]string, 0, len(override))
	for k := range override {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, override[k]))
	}
	return strings.Join(lines, "\n") + "\n"
}

package scandispatch

import "gopkg.in/yaml.v3"

// scenarioDoc is the slice of the scenario YAML (§6) this package needs:
// which scan metrics were requested and any per-repo tool configuration
// overrides. Parsed independently of the orchestrator's own scenario
// validation so this package has no import-cycle dependency on it.
type scenarioDoc struct {
	Features struct {
		ScanMetrics struct {
			Sonarqube []string `yaml:"sonarqube"`
			Trivy     []string `yaml:"trivy"`
		} `yaml:"scan_metrics"`
		ScanConfig struct {
			Sonarqube struct {
				Repos map[string]map[string]any `yaml:"repos"`
			} `yaml:"sonarqube"`
			Trivy struct {
				Repos map[string]map[string]any `yaml:"repos"`
			} `yaml:"trivy"`
		} `yaml:"scan_config"`
	} `yaml:"features"`
}

// parseScenarioDoc decodes the scan-relevant subset of a scenario's raw
// YAML. An empty or unparseable document yields a zero-value scenarioDoc
// (no scan metrics requested) rather than an error — the dispatcher's
// caller decides whether that is a problem.
func parseScenarioDoc(raw string) scenarioDoc {
	var doc scenarioDoc
	if raw == "" {
		return doc
	}
	_ = yaml.Unmarshal([]byte(raw), &doc)
	return doc
}

// EnabledTools returns which scanners this scenario requested, derived from
// features.scan_metrics having a non-empty list for that tool.
func (d scenarioDoc) EnabledTools() []Tool {
	var tools []Tool
	if len(d.Features.ScanMetrics.Sonarqube) > 0 {
		tools = append(tools, ToolSonar)
	}
	if len(d.Features.ScanMetrics.Trivy) > 0 {
		tools = append(tools, ToolTrivy)
	}
	return tools
}

// RepoOverride returns the per-repo scan_config block for a tool and raw
// repo id, if the scenario YAML declared one.
func (d scenarioDoc) RepoOverride(tool Tool, rawRepoID string) map[string]any {
	switch tool {
	case ToolSonar:
		return d.Features.ScanConfig.Sonarqube.Repos[rawRepoID]
	case ToolTrivy:
		return d.Features.ScanConfig.Trivy.Repos[rawRepoID]
	default:
		return nil
	}
}

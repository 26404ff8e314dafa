package scandispatch

import "testing"

func TestParseScenarioDocEnabledTools(t *testing.T) {
	doc := parseScenarioDoc(`
features:
  scan_metrics:
    sonarqube: [bugs, coverage]
`)
	tools := doc.EnabledTools()
	if len(tools) != 1 || tools[0] != ToolSonar {
		t.Fatalf("expected only sonar enabled, got %v", tools)
	}
}

func TestParseScenarioDocEmptyYAMLEnablesNothing(t *testing.T) {
	doc := parseScenarioDoc("")
	if len(doc.EnabledTools()) != 0 {
		t.Fatalf("expected no tools enabled for empty yaml")
	}
}

func TestParseScenarioDocRepoOverride(t *testing.T) {
	doc := parseScenarioDoc(`
features:
  scan_config:
    sonarqube:
      repos:
        repo-a:
          sonar.exclusions: "**/vendor/**"
`)
	override := doc.RepoOverride(ToolSonar, "repo-a")
	if override["sonar.exclusions"] != "**/vendor/**" {
		t.Fatalf("expected repo override to be parsed, got %v", override)
	}
	if doc.RepoOverride(ToolSonar, "repo-b") != nil {
		t.Fatalf("expected no override for unconfigured repo")
	}
	if doc.RepoOverride(ToolTrivy, "repo-a") != nil {
		t.Fatalf("expected no trivy override when only sonarqube is configured")
	}
}

func TestScanUnitComponentKey(t *testing.T) {
	u := ScanUnit{RepoFullName: "acme/widgets", CommitSHA: "0123456789abcdef"}
	got := u.ComponentKey("sc-1")
	want := "sc-1_acme_widgets_0123456789ab"
	if got != want {
		t.Fatalf("ComponentKey() = %q, want %q", got, want)
	}
}

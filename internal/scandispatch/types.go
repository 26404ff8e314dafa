// Package scandispatch implements the Scan Dispatcher (C7): it decouples
// expensive SonarQube/Trivy scans from the critical ingest/process path by
// batching unique (repo, commit) pairs, dispatching one task per tool to a
// dedicated queue, and backfilling the resulting metrics into every
// FeatureVector that scopes to that commit once a scan reports back (§4.7).
package scandispatch

import (
	"context"
	"time"
)

// Tool names the scanners the dispatcher knows how to run.
type Tool string

const (
	ToolSonar Tool = "sonar"
	ToolTrivy Tool = "trivy"
)

// ScanUnit is one deduplicated (repository, commit) pair awaiting a scan
// with a specific tool. The dispatcher emits one ScanUnit per unique commit
// per enabled tool (§4.7 step 1).
type ScanUnit struct {
	ScenarioID   string
	RepositoryID string
	RepoFullName string // "<owner>/<name>", used in the Sonar component key
	CommitSHA    string
	WorktreePath string
	Tool         Tool
}

// ComponentKey returns the Sonar component key format mandated by §4.7 step
// 5: "<scenario-prefix>_<repo_owner_repo>_<sha[:12]>".
func (u ScanUnit) ComponentKey(scenarioPrefix string) string {
	owner, repo := splitFullName(u.RepoFullName)
	sha := u.CommitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return scenarioPrefix + "_" + owner + "_" + repo + "_" + sha
}

func splitFullName(fullName string) (owner, repo string) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return fullName, ""
}

// TaskDispatcher is the subset of the task orchestration runtime the scan
// dispatcher needs: enqueue one task by name onto a named queue. The
// concrete implementation (a Temporal-backed task runtime) lives outside
// this package; scandispatch only depends on this narrow seam so it can be
// tested without a running Temporal server.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, queue, taskName string, payload any) error
}

// ScanResult is what a scan task reports back on completion (synchronously
// for Trivy, via webhook for Sonar).
type ScanResult struct {
	Unit    ScanUnit
	Metrics map[string]string // raw metric name -> value, before the sonar_/trivy_ prefix is applied
	Err     error
}

// MetricPrefix returns the FeatureVector key prefix a tool's metrics are
// backfilled under (§4.7 step 5: "sonar_<metric>" / "trivy_<metric>").
func (t Tool) MetricPrefix() string {
	switch t {
	case ToolSonar:
		return "sonar_"
	case ToolTrivy:
		return "trivy_"
	default:
		return string(t) + "_"
	}
}

// Queue returns the dedicated queue name a tool's scan tasks dispatch to.
func (t Tool) Queue() string {
	switch t {
	case ToolSonar:
		return "sonar_scan"
	case ToolTrivy:
		return "trivy_scan"
	default:
		return string(t) + "_scan"
	}
}

// TaskName returns the task/activity name dispatched for a tool (§4.7 step 4:
// "dispatch start_sonar_scan or start_trivy_scan").
func (t Tool) TaskName() string {
	switch t {
	case ToolSonar:
		return "start_sonar_scan"
	case ToolTrivy:
		return "start_trivy_scan"
	default:
		return "start_" + string(t) + "_scan"
	}
}

// nowFunc is overridden in tests so SonarScanPending timestamps are
// deterministic; production code always uses time.Now.
var nowFunc = time.Now

// Package resourcedag resolves the fixed, small dependency graph of build
// resources (git history, git worktree, build logs) into an execution order,
// and drives their acquisition with graceful degradation on failure (§4.3).
package resourcedag

import (
	"context"
	"fmt"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

// Resource names the fixed set of resource kinds a build can expose.
type Resource string

const (
	ResourceGitHistory  Resource = "git_history"
	ResourceGitWorktree Resource = "git_worktree" // depends on git_history
	ResourceBuildLogs   Resource = "build_logs"   // independent
)

// dependencies is the fixed, literal two-edge dependency rule set (§4.3).
// It never grows at runtime, so it is expressed directly rather than through
// a general-purpose graph library.
var dependencies = map[Resource][]Resource{
	ResourceGitHistory:  nil,
	ResourceGitWorktree: {ResourceGitHistory},
	ResourceBuildLogs:   nil,
}

// All lists every known resource kind.
func All() []Resource {
	return []Resource{ResourceGitHistory, ResourceGitWorktree, ResourceBuildLogs}
}

// Levels topologically sorts the requested resources into execution levels:
// resources in level N depend only on resources in levels < N. Unknown
// resources are rejected rather than silently dropped.
func Levels(requested []Resource) ([][]Resource, error) {
	want := make(map[Resource]bool, len(requested))
	for _, r := range requested {
		if _, ok := dependencies[r]; !ok {
			return nil, fmt.Errorf("resourcedag: unknown resource %q", r)
		}
		want[r] = true
	}

	resolved := make(map[Resource]bool, len(want))
	var levels [][]Resource
	for len(resolved) < len(want) {
		var level []Resource
		for r := range want {
			if resolved[r] {
				continue
			}
			ready := true
			for _, dep := range dependencies[r] {
				if want[dep] && !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, r)
			}
		}
		if len(level) == 0 {
			// The fixed rule set is acyclic by construction; this only fires
			// if someone edits `dependencies` into a cycle.
			return nil, fmt.Errorf("resourcedag: dependency cycle detected among requested resources")
		}
		for _, r := range level {
			resolved[r] = true
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Acquirer fetches one resource kind for a build. Implementations live in
// internal/ingestion; this package only orders the calls.
type Acquirer interface {
	Acquire(ctx context.Context, resource Resource) error
}

// Status records the outcome of acquiring one resource.
type Status struct {
	Resource  Resource
	Available bool
	Err       error
}

// Resolve acquires every requested resource in dependency order. A resource
// whose dependency failed to become available is marked unavailable without
// attempting acquisition (graceful degradation propagates downward); any
// other resource's acquisition failure is recorded but does not halt the
// remaining independent resources.
func Resolve(ctx context.Context, acquirer Acquirer, requested []Resource) ([]Status, error) {
	levels, err := Levels(requested)
	if err != nil {
		return nil, err
	}

	available := make(map[Resource]bool, len(requested))
	var statuses []Status
	for _, level := range levels {
		for _, r := range level {
			depsOK := true
			for _, dep := range dependencies[r] {
				if !available[dep] {
					depsOK = false
					break
				}
			}
			if !depsOK {
				statuses = append(statuses, Status{Resource: r, Available: false,
					Err: pipelineerr.New(pipelineerr.KindMissingResource, string(r), fmt.Errorf("dependency unavailable"))})
				continue
			}

			acqErr := acquirer.Acquire(ctx, r)
			if acqErr != nil {
				available[r] = false
				statuses = append(statuses, Status{Resource: r, Available: false, Err: acqErr})
				continue
			}
			available[r] = true
			statuses = append(statuses, Status{Resource: r, Available: true})
		}
	}
	return statuses, nil
}

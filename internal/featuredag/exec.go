package featuredag

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NodeOutcome is the recorded result of running one FeatureNode for one build,
// suitable for both FeatureVector materialization and FeatureAuditLog entries.
type NodeOutcome struct {
	Feature string
	Result  Result
	Err     error
}

// Outcome classifies a NodeOutcome the way FeatureAuditLog does: ok,
// degraded, missing_resource, or error.
func (o NodeOutcome) Outcome() string {
	switch {
	case o.Err != nil:
		return "error"
	case o.Result.Degraded:
		if o.Result.Reason == "missing_resource" {
			return "missing_resource"
		}
		return "degraded"
	default:
		return "ok"
	}
}

// Execute runs every feature in `levels` against bc, level by level, with up
// to `poolSize` extractor nodes running concurrently within a level (§5
// default 4). A node whose required resources are unavailable is recorded as
// degraded without being invoked; a node whose Extract call errors is
// recorded as an error outcome but does not stop sibling nodes in the same
// level (graceful degradation, not fail-fast).
func Execute(ctx context.Context, reg *Registry, levels [][]string, bc *BuildContext, poolSize int) []NodeOutcome {
	if poolSize <= 0 {
		poolSize = 4
	}

	var outcomes []NodeOutcome
	var mu sync.Mutex

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		sem := make(chan struct{}, poolSize)

		for _, name := range level {
			name := name
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				outcome := runNode(gctx, reg, name, bc)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				if outcome.Err == nil && !outcome.Result.Degraded {
					bc.Values[name] = outcome.Result.Value
				}
				mu.Unlock()
				return nil // never propagate node failure as a group error: degrade, don't abort
			})
		}
		// Execute never returns an error: node failures are captured per-outcome.
		_ = g.Wait()
	}
	return outcomes
}

func runNode(ctx context.Context, reg *Registry, name string, bc *BuildContext) NodeOutcome {
	node, ok := reg.Get(name)
	if !ok {
		return NodeOutcome{Feature: name, Err: fmt.Errorf("featuredag: unknown feature %q", name)}
	}

	for _, res := range node.RequiresResources() {
		if !bc.Resources[res] {
			return NodeOutcome{
				Feature: name,
				Result:  Result{Degraded: true, Reason: "missing_resource"},
			}
		}
	}
	for _, dep := range node.RequiresFeatures() {
		if _, ok := bc.Values[dep]; !ok {
			return NodeOutcome{
				Feature: name,
				Result:  Result{Degraded: true, Reason: fmt.Sprintf("dependency %q unavailable", dep)},
			}
		}
	}

	result, err := node.Extract(ctx, bc)
	if err != nil {
		return NodeOutcome{Feature: name, Err: err}
	}
	return NodeOutcome{Feature: name, Result: result}
}

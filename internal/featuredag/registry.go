// Package featuredag resolves a Scenario's declared feature set into a
// topologically ordered graph of extractor nodes and executes it per build,
// with graceful degradation when a node's resources or dependencies are
// unavailable (C6).
package featuredag

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/antigravity-dev/buildrisk/internal/resourcedag"
)

// BuildContext carries everything an extractor node needs to compute its
// feature for one build: resolved resource handles and the values already
// produced earlier in the same run (so a node may depend on another
// feature's output, not just on raw resources).
type BuildContext struct {
	ScenarioID   string
	BuildRunID   string
	WorktreePath string
	LogsPath     string
	Resources    map[resourcedag.Resource]bool // availability, per Resolve()
	Values       map[string]any                // feature_name -> extracted value, filled in as nodes run
}

// Result is the outcome of running one FeatureNode.
type Result struct {
	Value    any
	Degraded bool   // true if the node could not compute a value but did not error
	Reason   string // populated when Degraded or on error
}

// FeatureNode is the heterogeneous capability every extractor implements,
// regardless of whether it parses git history, build logs, or a CI
// provider's API (§9 Design Notes: "one FeatureNode capability").
type FeatureNode interface {
	// Name is the feature's unique identifier, e.g. "git_commit_count".
	Name() string
	// RequiresFeatures lists other feature names this node's computation
	// depends on; their Values will be populated in BuildContext first.
	RequiresFeatures() []string
	// RequiresResources lists resource kinds this node needs available.
	RequiresResources() []resourcedag.Resource
	// Extract computes the feature value. Returning a Result with Degraded
	// set (and a nil error) lets the engine record a partial outcome instead
	// of failing the whole build.
	Extract(ctx context.Context, bc *BuildContext) (Result, error)
}

// Registry is a process-wide immutable map of feature name -> FeatureNode,
// matching §9's "global immutable registry" design note: built once at
// startup, never mutated afterward, so concurrent resolutions never race on
// it.
type Registry struct {
	nodes map[string]FeatureNode
}

// NewRegistry builds an immutable registry from a fixed node list. Duplicate
// feature names are rejected since they would make resolution ambiguous.
func NewRegistry(nodes []FeatureNode) (*Registry, error) {
	m := make(map[string]FeatureNode, len(nodes))
	for _, n := range nodes {
		name := n.Name()
		if _, exists := m[name]; exists {
			return nil, fmt.Errorf("featuredag: duplicate feature node %q", name)
		}
		m[name] = n
	}
	return &Registry{nodes: m}, nil
}

// Get returns the node registered under name, if any.
func (r *Registry) Get(name string) (FeatureNode, bool) {
	n, ok := r.nodes[name]
	return n, ok
}

// Names returns every registered feature name, sorted for deterministic iteration.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Expand resolves a declared feature set — exact names or glob-style
// wildcards (e.g. "git_*") — against the registry, returning the concrete
// feature name list. An empty or "*" pattern selects every registered
// feature.
func (r *Registry) Expand(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return r.Names(), nil
	}
	selected := make(map[string]bool)
	for _, pattern := range patterns {
		if pattern == "*" {
			for _, name := range r.Names() {
				selected[name] = true
			}
			continue
		}
		if !hasWildcard(pattern) {
			if _, ok := r.nodes[pattern]; !ok {
				return nil, fmt.Errorf("featuredag: unknown feature %q", pattern)
			}
			selected[pattern] = true
			continue
		}
		matched := false
		for _, name := range r.Names() {
			ok, err := filepath.Match(pattern, name)
			if err != nil {
				return nil, fmt.Errorf("featuredag: invalid feature pattern %q: %w", pattern, err)
			}
			if ok {
				selected[name] = true
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("featuredag: wildcard %q matched no registered feature", pattern)
		}
	}
	out := make([]string, 0, len(selected))
	for name := range selected {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func hasWildcard(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

var (
	globalRegistry   *Registry
	globalRegistryMu sync.RWMutex
)

// SetGlobal installs the process-wide registry. Called once at startup.
func SetGlobal(r *Registry) {
	globalRegistryMu.Lock()
	defer globalRegistryMu.Unlock()
	globalRegistry = r
}

// Global returns the process-wide registry installed via SetGlobal.
func Global() *Registry {
	globalRegistryMu.RLock()
	defer globalRegistryMu.RUnlock()
	return globalRegistry
}

package featuredag

import "fmt"

// Resolve computes the transitive closure of `requested` over
// RequiresFeatures edges, detects cycles, and returns the result as
// topologically ordered execution levels: every feature in level N depends
// only on features in levels < N (§4.6 resolution algorithm: worklist ->
// transitive closure -> cycle detection -> topological leveling).
func Resolve(reg *Registry, requested []string) ([][]string, error) {
	closure, err := transitiveClosure(reg, requested)
	if err != nil {
		return nil, err
	}
	return levelOrder(reg, closure)
}

// transitiveClosure expands `requested` to include every feature reachable
// via RequiresFeatures edges, using a worklist so each feature is visited once.
func transitiveClosure(reg *Registry, requested []string) (map[string]bool, error) {
	closure := make(map[string]bool, len(requested))
	worklist := append([]string{}, requested...)

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if closure[name] {
			continue
		}
		node, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("featuredag: unknown feature %q", name)
		}
		closure[name] = true
		for _, dep := range node.RequiresFeatures() {
			if !closure[dep] {
				worklist = append(worklist, dep)
			}
		}
	}
	return closure, nil
}

// levelOrder runs a Kahn's-algorithm topological sort over the closure,
// erroring out if a cycle is detected (feature dependency graphs must be
// acyclic: a feature cannot require itself, directly or transitively).
func levelOrder(reg *Registry, closure map[string]bool) ([][]string, error) {
	resolved := make(map[string]bool, len(closure))
	var levels [][]string

	for len(resolved) < len(closure) {
		var level []string
		for name := range closure {
			if resolved[name] {
				continue
			}
			node, _ := reg.Get(name)
			ready := true
			for _, dep := range node.RequiresFeatures() {
				if closure[dep] && !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("featuredag: cycle detected among requested features")
		}
		sortStrings(level)
		for _, name := range level {
			resolved[name] = true
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

package featuredag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newStubRegistry(t *testing.T, edges map[string][]string) *Registry {
	t.Helper()
	var nodes []FeatureNode
	for name, deps := range edges {
		nodes = append(nodes, stubNode{name: name, requires: deps})
	}
	reg, err := NewRegistry(nodes)
	require.NoError(t, err)
	return reg
}

func TestResolveOrdersDependenciesBeforeDependents(t *testing.T) {
	reg := newStubRegistry(t, map[string][]string{
		"history_prev_failed": nil,
		"history_fail_streak": {"history_prev_failed"},
		"git_commit_count":    nil,
	})

	levels, err := Resolve(reg, []string{"history_fail_streak"})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"history_prev_failed"}, {"history_fail_streak"}}, levels)
}

func TestResolveExpandsTransitiveClosureOnlyForRequested(t *testing.T) {
	reg := newStubRegistry(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": nil, // unrelated, must not appear
	})

	levels, err := Resolve(reg, []string{"b"})
	require.NoError(t, err)

	var flat []string
	for _, lvl := range levels {
		flat = append(flat, lvl...)
	}
	require.ElementsMatch(t, []string{"a", "b"}, flat)
}

func TestResolveUnknownFeatureErrors(t *testing.T) {
	reg := newStubRegistry(t, map[string][]string{"a": nil})
	_, err := Resolve(reg, []string{"nonexistent"})
	require.Error(t, err)
}

func TestResolveDetectsCycle(t *testing.T) {
	reg := newStubRegistry(t, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	_, err := Resolve(reg, []string{"a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestResolveSameLevelSortedDeterministically(t *testing.T) {
	reg := newStubRegistry(t, map[string][]string{
		"zeta":  nil,
		"alpha": nil,
	})
	levels, err := Resolve(reg, []string{"zeta", "alpha"})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"alpha", "zeta"}}, levels)
}

package featuredag

import (
	"context"
	"fmt"
	"testing"

	"github.com/antigravity-dev/buildrisk/internal/resourcedag"
	"github.com/stretchr/testify/require"
)

type execNode struct {
	name      string
	requires  []string
	resources []resourcedag.Resource
	value     any
	err       error
	degraded  bool
	reason    string
}

func (n execNode) Name() string                             { return n.name }
func (n execNode) RequiresFeatures() []string                { return n.requires }
func (n execNode) RequiresResources() []resourcedag.Resource { return n.resources }
func (n execNode) Extract(ctx context.Context, bc *BuildContext) (Result, error) {
	if n.err != nil {
		return Result{}, n.err
	}
	return Result{Value: n.value, Degraded: n.degraded, Reason: n.reason}, nil
}

func newBuildContext() *BuildContext {
	return &BuildContext{
		Resources: map[resourcedag.Resource]bool{},
		Values:    map[string]any{},
	}
}

func TestExecuteRunsAllLevelsAndRecordsOutcomes(t *testing.T) {
	reg, err := NewRegistry([]FeatureNode{
		execNode{name: "a", value: 1},
		execNode{name: "b", requires: []string{"a"}, value: 2},
	})
	require.NoError(t, err)

	bc := newBuildContext()
	outcomes := Execute(context.Background(), reg, [][]string{{"a"}, {"b"}}, bc, 4)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.Equal(t, "ok", o.Outcome())
	}
	require.Equal(t, 1, bc.Values["a"])
	require.Equal(t, 2, bc.Values["b"])
}

func TestExecuteDegradesOnMissingResource(t *testing.T) {
	reg, err := NewRegistry([]FeatureNode{
		execNode{name: "needs_history", resources: []resourcedag.Resource{resourcedag.ResourceGitHistory}, value: 1},
	})
	require.NoError(t, err)

	bc := newBuildContext() // ResourceGitHistory deliberately absent
	outcomes := Execute(context.Background(), reg, [][]string{{"needs_history"}}, bc, 4)

	require.Len(t, outcomes, 1)
	require.Equal(t, "missing_resource", outcomes[0].Outcome())
	require.NotContains(t, bc.Values, "needs_history")
}

func TestExecuteDegradesOnUnavailableFeatureDependency(t *testing.T) {
	reg, err := NewRegistry([]FeatureNode{
		execNode{name: "base", err: fmt.Errorf("boom")},
		execNode{name: "dependent", requires: []string{"base"}, value: 1},
	})
	require.NoError(t, err)

	bc := newBuildContext()
	outcomes := Execute(context.Background(), reg, [][]string{{"base"}, {"dependent"}}, bc, 4)

	byName := map[string]NodeOutcome{}
	for _, o := range outcomes {
		byName[o.Feature] = o
	}
	require.Equal(t, "error", byName["base"].Outcome())
	require.Equal(t, "degraded", byName["dependent"].Outcome())
}

func TestExecuteErrorInOneNodeDoesNotStopSiblings(t *testing.T) {
	reg, err := NewRegistry([]FeatureNode{
		execNode{name: "ok_node", value: 42},
		execNode{name: "bad_node", err: fmt.Errorf("boom")},
	})
	require.NoError(t, err)

	bc := newBuildContext()
	outcomes := Execute(context.Background(), reg, [][]string{{"ok_node", "bad_node"}}, bc, 4)

	require.Len(t, outcomes, 2)
	require.Equal(t, 42, bc.Values["ok_node"])
	require.NotContains(t, bc.Values, "bad_node")
}

func TestExecuteRespectsPoolSizeDefault(t *testing.T) {
	reg, err := NewRegistry([]FeatureNode{execNode{name: "a", value: 1}})
	require.NoError(t, err)

	bc := newBuildContext()
	outcomes := Execute(context.Background(), reg, [][]string{{"a"}}, bc, 0)
	require.Len(t, outcomes, 1)
}

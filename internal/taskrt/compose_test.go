package taskrt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

const defaultTestActivityTimeout = 10 * time.Second

func okActivity(ctx context.Context, payload string) (string, error) { return payload + "-done", nil }
func failActivity(ctx context.Context, payload string) (string, error) {
	return "", errors.New("boom")
}
func callbackActivity(ctx context.Context, results []StepResult) (int, error) { return len(results), nil }

func chainTestWorkflow(ctx workflow.Context, _ struct{}) error {
	return Chain(ctx, testActivityOptions(), []Step{
		{Name: "ok_a", Payload: "a"},
		{Name: "ok_b", Payload: "b"},
	})
}

func chainAbortsOnFirstErrorWorkflow(ctx workflow.Context, _ struct{}) error {
	return Chain(ctx, testActivityOptions(), []Step{
		{Name: "fail_a", Payload: "a"},
		{Name: "ok_b", Payload: "b"}, // must never run
	})
}

func groupTestWorkflow(ctx workflow.Context, _ struct{}) ([]StepResult, error) {
	results := Group(ctx, testActivityOptions(), []Step{
		{Name: "ok_a", Payload: "a"},
		{Name: "fail_a", Payload: "b"},
		{Name: "ok_b", Payload: "c"},
	})
	return results, nil
}

func chordTestWorkflow(ctx workflow.Context, _ struct{}) (int, error) {
	err := Chord(ctx, testActivityOptions(), testActivityOptions(), []Step{
		{Name: "ok_a", Payload: "a"},
		{Name: "fail_a", Payload: "b"},
	}, "callback")
	return 0, err
}

func TestChainRunsStepsInOrder(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(chainTestWorkflow)
	env.RegisterActivityWithOptions(okActivity, activity.RegisterOptions{Name: "ok_a"})
	env.RegisterActivityWithOptions(okActivity, activity.RegisterOptions{Name: "ok_b"})

	env.ExecuteWorkflow(chainTestWorkflow, struct{}{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

func TestChainAbortsOnFirstError(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(chainAbortsOnFirstErrorWorkflow)
	env.RegisterActivityWithOptions(failActivity, activity.RegisterOptions{Name: "fail_a"})
	env.RegisterActivityWithOptions(okActivity, activity.RegisterOptions{Name: "ok_b"})
	env.OnActivity("ok_b", mock.Anything, mock.Anything).Maybe().Return("unreached", nil)

	env.ExecuteWorkflow(chainAbortsOnFirstErrorWorkflow, struct{}{})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "ok_b", mock.Anything, mock.Anything)
}

func TestGroupCollectsPerStepResultsWithoutAbortingSiblings(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(groupTestWorkflow)
	env.RegisterActivityWithOptions(okActivity, activity.RegisterOptions{Name: "ok_a"})
	env.RegisterActivityWithOptions(failActivity, activity.RegisterOptions{Name: "fail_a"})
	env.RegisterActivityWithOptions(okActivity, activity.RegisterOptions{Name: "ok_b"})

	env.ExecuteWorkflow(groupTestWorkflow, struct{}{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var results []StepResult
	require.NoError(t, env.GetWorkflowResult(&results))
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)
}

func TestChordRunsCallbackAfterEverySiblingSettles(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(chordTestWorkflow)
	env.RegisterActivityWithOptions(okActivity, activity.RegisterOptions{Name: "ok_a"})
	env.RegisterActivityWithOptions(failActivity, activity.RegisterOptions{Name: "fail_a"})
	env.RegisterActivityWithOptions(callbackActivity, activity.RegisterOptions{Name: "callback"})

	env.ExecuteWorkflow(chordTestWorkflow, struct{}{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError(), "the callback itself succeeds even though one sibling failed")
}

func testActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{StartToCloseTimeout: defaultTestActivityTimeout}
}

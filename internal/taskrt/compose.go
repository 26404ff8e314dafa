package taskrt

import (
	"go.temporal.io/sdk/workflow"
)

// Step names one activity invocation within a Chain/Group/Chord.
type Step struct {
	Name    string
	Payload any
}

// StepResult pairs a Step's name with its outcome, used by Group/Chord so
// callers can tell which sibling failed without aborting the others.
type StepResult struct {
	Name string
	Err  error
}

// Chain runs steps sequentially, aborting on the first error — the
// composition Phase 3 uses for its process_build steps (§4.6).
func Chain(ctx workflow.Context, opts workflow.ActivityOptions, steps []Step) error {
	actCtx := workflow.WithActivityOptions(ctx, opts)
	for _, step := range steps {
		if err := workflow.ExecuteActivity(actCtx, step.Name, step.Payload).Get(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// Group runs steps concurrently and waits for every one to settle,
// returning a StepResult per step regardless of individual failure — the
// composition Phase 2 uses for its clone and worktree/log fan-outs (§4.4),
// so one failing repo or build does not block its siblings.
func Group(ctx workflow.Context, opts workflow.ActivityOptions, steps []Step) []StepResult {
	actCtx := workflow.WithActivityOptions(ctx, opts)
	futures := make([]workflow.Future, len(steps))
	for i, step := range steps {
		futures[i] = workflow.ExecuteActivity(actCtx, step.Name, step.Payload)
	}

	results := make([]StepResult, len(steps))
	for i, f := range futures {
		results[i] = StepResult{Name: steps[i].Name, Err: f.Get(ctx, nil)}
	}
	return results
}

// Chord runs steps concurrently like Group, then — once every sibling has
// settled, success or failure — executes one callback activity carrying
// the aggregated StepResults.
func Chord(ctx workflow.Context, groupOpts, callbackOpts workflow.ActivityOptions, steps []Step, callbackName string) error {
	results := Group(ctx, groupOpts, steps)

	callbackCtx := workflow.WithActivityOptions(ctx, callbackOpts)
	return workflow.ExecuteActivity(callbackCtx, callbackName, results).Get(ctx, nil)
}

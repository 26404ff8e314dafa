package taskrt

import (
	"context"
	"fmt"
	"log"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/google/uuid"
)

// Runtime wraps a Temporal client and drives task dispatch by name onto a
// target queue. It implements scandispatch.TaskDispatcher (and any other
// component's analogous dispatch seam) without those packages importing
// Temporal directly.
type Runtime struct {
	client    client.Client
	taskQueue func(queue string) string // queue name -> Temporal task queue name, identity by default
}

// NewRuntime dials the Temporal frontend at hostPort.
func NewRuntime(hostPort string) (*Runtime, error) {
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return nil, fmt.Errorf("taskrt: dial temporal: %w", err)
	}
	return &Runtime{client: c, taskQueue: func(q string) string { return q }}, nil
}

// Close releases the underlying Temporal client connection.
func (r *Runtime) Close() { r.client.Close() }

// Client exposes the underlying Temporal client for callers (e.g. the
// orchestrator) that need direct workflow control beyond simple dispatch.
func (r *Runtime) Client() client.Client { return r.client }

// Dispatch starts RunTaskWorkflow on the queue's Temporal task queue,
// handing it a TaskEnvelope naming the activity to run. Workers polling
// that queue must have registered an activity under taskName (see
// Worker.RegisterNamedActivity) for the task to actually execute — Dispatch
// itself only starts the workflow and does not wait for completion,
// matching the fire-and-forget dispatch semantics §4.1/§4.7 describe.
func (r *Runtime) Dispatch(ctx context.Context, queue, taskName string, payload any) error {
	opts := client.StartWorkflowOptions{
		ID:        taskName + "-" + uuid.NewString(),
		TaskQueue: r.taskQueue(queue),
	}
	_, err := r.client.ExecuteWorkflow(ctx, opts, RunTaskWorkflow, TaskEnvelope{TaskName: taskName, Payload: payload})
	if err != nil {
		return fmt.Errorf("taskrt: dispatch %s on %s: %w", taskName, queue, err)
	}
	return nil
}

// RunTaskWorkflow is the one generic workflow every queue's worker pool
// runs: it executes whichever named activity the envelope carries, on the
// task queue it was started on. A worker only needs to register the
// activities relevant to its queue; it need not know about every task kind
// in the system.
func RunTaskWorkflow(ctx workflow.Context, req TaskEnvelope) error {
	return workflow.ExecuteActivity(ctx, req.TaskName, req.Payload).Get(ctx, nil)
}

// Worker registers RunTaskWorkflow plus a queue's named activities and runs
// until interrupted. One Worker instance per queue, per §4.1's "each served
// by a dedicated worker pool".
type Worker struct {
	w worker.Worker
}

// NewWorker builds a worker bound to one Temporal task queue.
func NewWorker(c client.Client, queue string) *Worker {
	w := worker.New(c, queue, worker.Options{})
	w.RegisterWorkflow(RunTaskWorkflow)
	return &Worker{w: w}
}

// RegisterNamedActivity binds an activity function to the task name that
// TaskEnvelope.TaskName (and thus Dispatch's taskName argument) will
// reference, e.g. "start_sonar_scan", "clone_repo", "process_build".
func (wk *Worker) RegisterNamedActivity(name string, fn any) {
	wk.w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

// RegisterWorkflow binds an additional top-level workflow function (e.g.
// ScenarioWorkflow, ProcessingWorkflow) beyond the generic RunTaskWorkflow
// every Worker already carries. Callers that start these directly via
// client.ExecuteWorkflow (the orchestrator's API surface) need some worker
// on the target task queue to have registered them.
func (wk *Worker) RegisterWorkflow(wf any) {
	wk.w.RegisterWorkflow(wf)
}

// Run blocks serving the queue until the process receives an interrupt.
func (wk *Worker) Run() error {
	log.Printf("taskrt: worker started")
	return wk.w.Run(worker.InterruptCh())
}

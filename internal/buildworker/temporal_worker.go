package buildworker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
)

const taskQueue = "cortex-engine-build-queue"

// BuildWorkflowRequest is what the build workflow receives.
type BuildWorkflowRequest struct {
	TaskID      string
	Instruction string
	WorkingDir  string
}

// BuildWorkflowResult mirrors ExecuteResult across the workflow boundary.
type BuildWorkflowResult struct {
	Output    string
	Success   bool
	Error     string
	Artifacts []Artifact
	CostUsd   float64
}

// CheckWorkflowRequest is what the review workflow receives.
type CheckWorkflowRequest struct {
	TaskID       string
	BuildOutput  string
	BuildSummary string
}

// CheckWorkflowResult mirrors CheckResult across the workflow boundary.
type CheckWorkflowResult struct {
	Approved bool
	Issues   []string
	Summary  string
	CostUsd  float64
}

// temporalClient is the narrow slice of client.Client the worker needs,
// matching the teacher's scheduler.temporalClient seam for testability.
type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	Close()
}

// TemporalWorker dispatches BUILD and SHIP_CHECK into a Temporal workflow
// queue, collapsing the teacher's full CortexAgentWorkflow ceremony down
// to the two calls SPEC_FULL.md names: execute and check.
type TemporalWorker struct {
	tc      temporalClient
	timeout time.Duration
}

// NewTemporalWorker dials hostPort and returns a worker backed by it.
func NewTemporalWorker(hostPort string, timeout time.Duration) (*TemporalWorker, error) {
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return nil, fmt.Errorf("buildworker: dial temporal at %s: %w", hostPort, err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &TemporalWorker{tc: c, timeout: timeout}, nil
}

func (w *TemporalWorker) Name() string { return "temporal" }

// Close releases the underlying Temporal client connection.
func (w *TemporalWorker) Close() {
	if w.tc != nil {
		w.tc.Close()
	}
}

func (w *TemporalWorker) Execute(ctx context.Context, task Task) (ExecuteResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	run, err := w.tc.ExecuteWorkflow(callCtx, client.StartWorkflowOptions{
		ID:        "build-" + task.ID,
		TaskQueue: taskQueue,
	}, "BuildWorkflow", BuildWorkflowRequest{
		TaskID:      task.ID,
		Instruction: task.Instruction,
		WorkingDir:  task.WorkingDir,
	})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: execute workflow start: %w", err)
	}

	var result BuildWorkflowResult
	if err := run.Get(callCtx, &result); err != nil {
		return ExecuteResult{}, fmt.Errorf("buildworker: execute workflow result: %w", err)
	}

	return ExecuteResult{
		Output:    result.Output,
		Success:   result.Success,
		Error:     result.Error,
		Artifacts: result.Artifacts,
		CostUsd:   result.CostUsd,
	}, nil
}

func (w *TemporalWorker) Check(ctx context.Context, task Task, build BuildSummary) (CheckResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	run, err := w.tc.ExecuteWorkflow(callCtx, client.StartWorkflowOptions{
		ID:        "check-" + task.ID,
		TaskQueue: taskQueue,
	}, "ReviewWorkflow", CheckWorkflowRequest{
		TaskID:       task.ID,
		BuildOutput:  build.Output,
		BuildSummary: summarizeArtifacts(build.Artifacts),
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("buildworker: check workflow start: %w", err)
	}

	var result CheckWorkflowResult
	if err := run.Get(callCtx, &result); err != nil {
		return CheckResult{}, fmt.Errorf("buildworker: check workflow result: %w", err)
	}

	return CheckResult{
		Approved: result.Approved,
		Issues:   result.Issues,
		Summary:  result.Summary,
		CostUsd:  result.CostUsd,
	}, nil
}

func summarizeArtifacts(artifacts []Artifact) string {
	if len(artifacts) == 0 {
		return "no artifacts produced"
	}
	summary := ""
	for _, a := range artifacts {
		summary += string(a.Type) + ":" + a.Ref + " "
	}
	return summary
}

// Package buildworker implements the BUILD phase's execute/check
// collaborator. TemporalWorker dispatches into a Temporal workflow queue,
// adapted from the teacher's internal/temporal CortexAgentWorkflow
// collapsed from its full PLAN→GATE→EXECUTE→REVIEW→HANDOFF→DOD→RECORD→
// ESCALATE ceremony down to the spec's execute/check contract.
// DockerWorker runs the build inside a disposable container, adapted from
// dispatch/docker.go; cmd/cortex-engine selects it when the worker backend
// is "docker". MockWorker is the zero-cost simulation backend.
package buildworker

import (
	"context"
	"fmt"
)

// ArtifactType restricts what BUILD may attach to a task.
type ArtifactType string

const (
	ArtifactBranch ArtifactType = "branch"
	ArtifactPR     ArtifactType = "pr"
	ArtifactFile   ArtifactType = "file"
	ArtifactURL    ArtifactType = "url"
	ArtifactLog    ArtifactType = "log"
)

// Artifact is one output of a build or check call.
type Artifact struct {
	Type ArtifactType
	Ref  string
}

// Task is the minimal view of model.Task the worker needs; kept narrow so
// this package has no dependency on model or store.
type Task struct {
	ID          string
	Instruction string
	WorkingDir  string
	Context     map[string]string
}

// ExecuteResult is what execute() returns.
type ExecuteResult struct {
	Output    string
	Success   bool
	Error     string
	Artifacts []Artifact
	LatencyMs int64
	CostUsd   float64
}

// BuildSummary is the synthesized build result passed into check().
type BuildSummary struct {
	Output    string
	Artifacts []Artifact
}

// CheckResult is what check() returns.
type CheckResult struct {
	Approved  bool
	Issues    []string
	Summary   string
	LatencyMs int64
	CostUsd   float64
}

// Worker is the build/review collaborator contract from SPEC_FULL.md §6.2.
type Worker interface {
	Name() string
	Execute(ctx context.Context, task Task) (ExecuteResult, error)
	Check(ctx context.Context, task Task, build BuildSummary) (CheckResult, error)
}

// MockWorker reports success with a log artifact and zero cost; used in
// simulation mode.
type MockWorker struct{}

func NewMockWorker() *MockWorker { return &MockWorker{} }

func (m *MockWorker) Name() string { return "mock" }

func (m *MockWorker) Execute(ctx context.Context, task Task) (ExecuteResult, error) {
	return ExecuteResult{
		Output:    "simulated build for " + task.ID,
		Success:   true,
		Artifacts: []Artifact{{Type: ArtifactLog, Ref: "simulated:" + task.ID}},
	}, nil
}

func (m *MockWorker) Check(ctx context.Context, task Task, build BuildSummary) (CheckResult, error) {
	return CheckResult{Approved: true, Summary: "simulated review approved"}, nil
}

// ErrNoBackend is returned by a worker when its backend (Temporal client,
// Docker client) failed to initialize at construction time.
var ErrNoBackend = fmt.Errorf("buildworker: backend unavailable")

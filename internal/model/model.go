// Package model defines the core data entities driven by the cycle engine:
// objectives, tasks, cycles, and the per-phase records they produce.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TruthStatus classifies how settled a knowledge-bearing record is.
type TruthStatus string

const (
	StatusVerified     TruthStatus = "verified"
	StatusHypothesis   TruthStatus = "hypothesis"
	StatusSpeculative  TruthStatus = "speculative"
	StatusImplemented  TruthStatus = "implemented"
	StatusFailed       TruthStatus = "failed"
	StatusArchived     TruthStatus = "archived"
)

// Confidence is the certainty attached to a TruthLabel.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// TruthLabel annotates a knowledge-bearing entity with a status and confidence.
type TruthLabel struct {
	TruthStatus TruthStatus `json:"truth_status"`
	Confidence  Confidence  `json:"confidence"`
}

// NewID generates a fresh stable identifier for an entity.
func NewID() string {
	return uuid.New().String()
}

// ObjectiveStatus is the lifecycle state of an Objective.
type ObjectiveStatus string

const (
	ObjectiveActive    ObjectiveStatus = "active"
	ObjectivePaused    ObjectiveStatus = "paused"
	ObjectiveCompleted ObjectiveStatus = "completed"
	ObjectiveAbandoned ObjectiveStatus = "abandoned"
)

// Objective is an operator-declared goal the engine works towards.
type Objective struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Weight             float64         `json:"weight"`
	Status             ObjectiveStatus `json:"status"`
	AcceptanceCriteria []string        `json:"acceptance_criteria"`
	Tags               []string        `json:"tags"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ClampWeight clamps w into [0,1].
func ClampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// TaskState is a node in the task lifecycle DAG (spec.md §4.9.2).
type TaskState string

const (
	TaskQueued            TaskState = "queued"
	TaskScanning          TaskState = "scanning"
	TaskPlanning          TaskState = "planning"
	TaskBuilding          TaskState = "building"
	TaskReviewing         TaskState = "reviewing"
	TaskAwaitingApproval  TaskState = "awaiting_approval"
	TaskApproved          TaskState = "approved"
	TaskRejected          TaskState = "rejected"
	TaskCompleted         TaskState = "completed"
	TaskFailed            TaskState = "failed"
	TaskCancelled         TaskState = "cancelled"
)

// TerminalTaskStates holds the states a Task cannot transition out of.
var TerminalTaskStates = map[TaskState]bool{
	TaskCompleted: true,
	TaskFailed:    true,
	TaskCancelled: true,
	TaskRejected:  true,
}

// AutonomyTier classifies how much human oversight a Task requires.
type AutonomyTier int

const (
	TierT0 AutonomyTier = 0 // autonomous
	TierT1 AutonomyTier = 1 // budget-constrained
	TierT2 AutonomyTier = 2 // human approval required
)

// ArtifactType restricts the kinds of artifact a build worker may report.
type ArtifactType string

const (
	ArtifactBranch ArtifactType = "branch"
	ArtifactPR     ArtifactType = "pr"
	ArtifactFile   ArtifactType = "file"
	ArtifactURL    ArtifactType = "url"
	ArtifactLog    ArtifactType = "log"
)

// Artifact is a single work product recorded against a Task.
type Artifact struct {
	Type ArtifactType `json:"type"`
	Ref  string        `json:"ref"`
}

// Task is a unit of delegated work created during BUILD.
type Task struct {
	ID            string       `json:"id"`
	ObjectiveID   string       `json:"objective_id"`
	CycleID       string       `json:"cycle_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	State         TaskState    `json:"state"`
	AutonomyTier  AutonomyTier `json:"autonomy_tier"`
	BudgetCapUsd  float64      `json:"budget_cap_usd"`
	ActualCostUsd float64      `json:"actual_cost_usd"`
	Artifacts     []Artifact   `json:"artifacts"`
	RetryCount    int          `json:"retry_count"`
	Error         string       `json:"error,omitempty"`
	TruthLabel    TruthLabel   `json:"truth_label"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// CycleState is the lifecycle state of a Cycle record (distinct from the
// engine's loop state — a Cycle is the persisted outcome of one pass).
type CycleState string

const (
	CycleRunning   CycleState = "running"
	CycleCompleted CycleState = "completed"
	CycleFailed    CycleState = "failed"
	CyclePaused    CycleState = "paused"
)

// PhaseTiming records when a phase started/completed within a cycle.
type PhaseTiming struct {
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Cycle is one full pass through the five-phase pipeline.
type Cycle struct {
	ID             string                 `json:"id"`
	Number         int                    `json:"number"`
	State          CycleState             `json:"state"`
	Mode           string                 `json:"mode"`
	PhaseTimings   map[string]PhaseTiming `json:"phase_timings"`
	TotalCostUsd   float64                `json:"total_cost_usd"`
	TasksCreated   int                    `json:"tasks_created"`
	TasksCompleted int                    `json:"tasks_completed"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// Finding is a single observation surfaced during SCAN.
type Finding struct {
	Summary     string      `json:"summary"`
	Relevance   float64     `json:"relevance"`
	TruthLabel  TruthLabel  `json:"truth_label"`
	Sources     []string    `json:"sources"`
	ObjectiveID string      `json:"objective_id,omitempty"`
}

// Scan is the record produced by SCAN and consumed by PLAN.
type Scan struct {
	ID          string    `json:"id"`
	CycleID     string    `json:"cycle_id"`
	ObjectiveIDs []string `json:"objective_ids"`
	Findings    []Finding `json:"findings"`
	CostUsd     float64   `json:"cost_usd"`
	Tokens      int       `json:"tokens"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProposedTask is a candidate task surfaced by PLAN, not yet materialized
// into a Task until BUILD runs.
type ProposedTask struct {
	Title               string `json:"title"`
	Description         string `json:"description"`
	EstimatedComplexity string `json:"estimated_complexity"` // trivial, small, medium, large
	SuggestedTier       int    `json:"suggested_tier"`
}

// Priority is one objective's slice of a Plan's strategy.
type Priority struct {
	ObjectiveID   string         `json:"objective_id"`
	Rationale     string         `json:"rationale"`
	ProposedTasks []ProposedTask `json:"proposed_tasks"`
}

// Strategy is PLAN's top-level output.
type Strategy struct {
	Summary    string     `json:"summary"`
	Priorities []Priority `json:"priorities"`
}

// Plan is the record produced by PLAN and consumed by BUILD.
type Plan struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id"`
	ScanID    string    `json:"scan_id"`
	Strategy  Strategy  `json:"strategy"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is an append-only record of one external adapter call or review.
type Run struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Phase      string    `json:"phase"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Tokens     int       `json:"tokens"`
	CostUsd    float64   `json:"cost_usd"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecommendationPriority ranks an Evaluation's recommendation.
type RecommendationPriority string

const (
	RecommendationLow    RecommendationPriority = "low"
	RecommendationMedium RecommendationPriority = "medium"
	RecommendationHigh   RecommendationPriority = "high"
)

// Recommendation is one actionable suggestion surfaced by EVAL.
type Recommendation struct {
	Summary    string                  `json:"summary"`
	Priority   RecommendationPriority  `json:"priority"`
	TruthLabel TruthLabel              `json:"truth_label"`
}

// EvalMetrics is the reconciled metric bundle for one cycle.
type EvalMetrics struct {
	TasksCompleted    int                `json:"tasks_completed"`
	TasksFailed       int                `json:"tasks_failed"`
	TotalCostUsd      float64            `json:"total_cost_usd"`
	AvgTaskLatencyMs  float64            `json:"avg_task_latency_ms"`
	ObjectiveProgress map[string]float64 `json:"objective_progress"`
}

// Period bounds an Evaluation's reporting window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Evaluation is the record produced once per cycle by EVAL.
type Evaluation struct {
	ID              string            `json:"id"`
	CycleID         string            `json:"cycle_id"`
	Period          Period            `json:"period"`
	Metrics         EvalMetrics       `json:"metrics"`
	Insights        []string          `json:"insights"`
	Recommendations []Recommendation  `json:"recommendations"`
	CreatedAt       time.Time         `json:"created_at"`
}

// LoopState is one of the ten engine loop states (spec.md §4.9.1).
type LoopState string

const (
	LoopIdle              LoopState = "idle"
	LoopScanning          LoopState = "scanning"
	LoopPlanning          LoopState = "planning"
	LoopBuilding          LoopState = "building"
	LoopShipChecking      LoopState = "ship_checking"
	LoopEvaluating        LoopState = "evaluating"
	LoopPaused            LoopState = "paused"
	LoopError             LoopState = "error"
	LoopAwaitingApproval  LoopState = "awaiting_approval"
	LoopBudgetExceeded    LoopState = "budget_exceeded"
)

// EngineState is the process-wide snapshot of the orchestrator.
type EngineState struct {
	LoopState              LoopState  `json:"loop_state"`
	CurrentCycleID         string     `json:"current_cycle_id,omitempty"`
	CurrentPhase           string     `json:"current_phase,omitempty"`
	CurrentTaskID          string     `json:"current_task_id,omitempty"`
	LastCycleCompletedAt   *time.Time `json:"last_cycle_completed_at,omitempty"`
	NextCycleScheduledAt   *time.Time `json:"next_cycle_scheduled_at,omitempty"`
	TotalCyclesCompleted   int        `json:"total_cycles_completed"`
	Error                  string     `json:"error,omitempty"`
}

// BudgetConfig is the set of hot-reloadable spend caps (spec.md §4.2/§3).
type BudgetConfig struct {
	PerCallUsd          float64            `json:"per_call_usd"`
	PerTaskUsd          float64            `json:"per_task_usd"`
	PerCycleUsd         float64            `json:"per_cycle_usd"`
	DailyUsd            float64            `json:"daily_usd"`
	WeeklyUsd           float64            `json:"weekly_usd"`
	PerProviderDailyUsd map[string]float64 `json:"per_provider_daily_usd"`
}

// CostRecord is one immutable, billable event charged through the ledger.
type CostRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Phase        string    `json:"phase"`
	TaskID       string    `json:"task_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUsd      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
}

// DecisionLogEntry is an append-only record of a policy decision made
// during a phase (e.g. which tier a proposed task resolved to).
type DecisionLogEntry struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id"`
	Phase     string    `json:"phase"`
	Summary   string    `json:"summary"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// ExperimentLogEntry is an append-only record of an EVAL recommendation
// taken as a hypothesis. The Phase Executor writes Result as "pending";
// nothing in the engine updates it afterwards.
type ExperimentLogEntry struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id"`
	Hypothesis string    `json:"hypothesis"`
	Result     string    `json:"result"`
	CreatedAt  time.Time `json:"created_at"`
}

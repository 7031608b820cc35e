package phase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortex-work/engine/internal/budget"
	"github.com/cortex-work/engine/internal/buildworker"
	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/model"
	"github.com/cortex-work/engine/internal/router"
	"github.com/cortex-work/engine/internal/textgen"
)

// fakeGenAdapter returns a canned JSON body instead of the mock's "{}", so
// tests can drive Plan/Eval's parsed strategy/evaluation deterministically.
type fakeGenAdapter struct{ body string }

func (f fakeGenAdapter) Name() string     { return "fake" }
func (f fakeGenAdapter) Provider() string { return "fake" }
func (f fakeGenAdapter) Model() string    { return "fake" }
func (f fakeGenAdapter) Generate(ctx context.Context, req textgen.Request) (textgen.Result, error) {
	return textgen.Result{Text: f.body}, nil
}

// fakeDecisionStore records every decision/experiment log append in memory.
type fakeDecisionStore struct {
	decisions   []*model.DecisionLogEntry
	experiments []*model.ExperimentLogEntry
}

func (s *fakeDecisionStore) AppendDecisionLog(entry *model.DecisionLogEntry) error {
	s.decisions = append(s.decisions, entry)
	return nil
}

func (s *fakeDecisionStore) AppendExperimentLog(entry *model.ExperimentLogEntry) error {
	s.experiments = append(s.experiments, entry)
	return nil
}

func newTestExecutor() *Executor {
	l := ledger.New()
	g := budget.New(l, model.BudgetConfig{PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 100, WeeklyUsd: 100})
	r := router.New(router.ModeSimulation, textgen.NewMockAdapter("mock"))
	w := buildworker.NewMockWorker()
	return New(l, g, r, w, nil)
}

func activeObjective() model.Objective {
	return model.Objective{ID: "obj-1", Title: "Test", Description: "a test objective", Status: model.ObjectiveActive}
}

func TestScanFailsWithNoActiveObjectives(t *testing.T) {
	e := newTestExecutor()
	_, result, _ := e.Scan(context.Background(), "cycle-1", 0, nil)
	if result.Success {
		t.Fatal("expected Scan to fail with no active objectives")
	}
}

func TestScanSucceedsInSimulationMode(t *testing.T) {
	e := newTestExecutor()
	scan, result, state := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
	if !result.Success {
		t.Fatalf("expected Scan to succeed, got error: %s", result.Error)
	}
	if scan.CycleID != "cycle-1" {
		t.Fatalf("Scan.CycleID = %q, want cycle-1", scan.CycleID)
	}
	if state.LastScan == nil {
		t.Fatal("expected LastScan to be set")
	}
}

func TestPlanFailsWithoutScan(t *testing.T) {
	e := newTestExecutor()
	_, result, _ := e.Plan(context.Background(), "cycle-1", 0, State{}, []model.Objective{activeObjective()})
	if result.Success {
		t.Fatal("expected Plan to fail with no prior scan")
	}
}

func TestPlanSucceedsAfterScan(t *testing.T) {
	e := newTestExecutor()
	_, _, scanState := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
	plan, result, planState := e.Plan(context.Background(), "cycle-1", 0, scanState, []model.Objective{activeObjective()})
	if !result.Success {
		t.Fatalf("expected Plan to succeed, got error: %s", result.Error)
	}
	if plan.ScanID != scanState.LastScan.ID {
		t.Fatalf("Plan.ScanID = %q, want %q", plan.ScanID, scanState.LastScan.ID)
	}
	if planState.LastPlan == nil {
		t.Fatal("expected LastPlan to be set")
	}
}

func TestBuildFailsWithoutPlan(t *testing.T) {
	e := newTestExecutor()
	_, result, _ := e.Build(context.Background(), "cycle-1", 0, State{}, 5)
	if result.Success {
		t.Fatal("expected Build to fail with no prior plan")
	}
}

func TestBuildCreatesAwaitingApprovalForT2Keyword(t *testing.T) {
	e := newTestExecutor()
	planState := State{
		LastPlan: &model.Plan{
			ID: "plan-1",
			Strategy: model.Strategy{
				Priorities: []model.Priority{
					{
						ObjectiveID: "obj-1",
						ProposedTasks: []model.ProposedTask{
							{Title: "Deploy to production", Description: "ship it", SuggestedTier: 0},
						},
					},
				},
			},
		},
	}

	tasks, result, _ := e.Build(context.Background(), "cycle-1", 0, planState, 5)
	if !result.Success {
		t.Fatalf("expected Build phase itself to succeed, got error: %s", result.Error)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].State != model.TaskAwaitingApproval {
		t.Fatalf("task state = %v, want awaiting_approval", tasks[0].State)
	}
	if tasks[0].AutonomyTier != model.TierT2 {
		t.Fatalf("task tier = %v, want T2", tasks[0].AutonomyTier)
	}
}

func TestBuildInvokesWorkerForNonT2Tasks(t *testing.T) {
	e := newTestExecutor()
	planState := State{
		LastPlan: &model.Plan{
			ID: "plan-1",
			Strategy: model.Strategy{
				Priorities: []model.Priority{
					{
						ObjectiveID: "obj-1",
						ProposedTasks: []model.ProposedTask{
							{Title: "Refactor helper", Description: "cleanup", SuggestedTier: 0},
						},
					},
				},
			},
		},
	}

	tasks, result, _ := e.Build(context.Background(), "cycle-1", 0, planState, 5)
	if !result.Success {
		t.Fatalf("expected Build to succeed, got error: %s", result.Error)
	}
	if tasks[0].State != model.TaskReviewing {
		t.Fatalf("task state = %v, want reviewing", tasks[0].State)
	}
}

func TestShipCheckOnlyTouchesReviewingTasks(t *testing.T) {
	e := newTestExecutor()
	tasks := []model.Task{
		{ID: "a", State: model.TaskReviewing},
		{ID: "b", State: model.TaskBuilding},
	}

	out, runs, result := e.ShipCheck(context.Background(), "cycle-1", 0, tasks)
	if !result.Success {
		t.Fatalf("expected ShipCheck to succeed, got error: %s", result.Error)
	}
	if out[0].State != model.TaskCompleted {
		t.Fatalf("task a state = %v, want completed", out[0].State)
	}
	if out[1].State != model.TaskBuilding {
		t.Fatalf("task b state = %v, want untouched (building)", out[1].State)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
}

func TestEvalOverridesReportedCountsWithRealCounts(t *testing.T) {
	e := newTestExecutor()
	tasks := []model.Task{
		{ID: "a", State: model.TaskCompleted},
		{ID: "b", State: model.TaskFailed},
		{ID: "c", State: model.TaskCompleted},
	}
	cycle := model.Cycle{ID: "cycle-1", Number: 1, TotalCostUsd: 1.23}

	evaluation, result, state := e.Eval(context.Background(), "cycle-1", 0, cycle, tasks)
	if !result.Success {
		t.Fatalf("expected Eval to succeed, got error: %s", result.Error)
	}
	if evaluation.Metrics.TasksCompleted != 2 {
		t.Fatalf("TasksCompleted = %d, want 2 (authoritative count)", evaluation.Metrics.TasksCompleted)
	}
	if evaluation.Metrics.TasksFailed != 1 {
		t.Fatalf("TasksFailed = %d, want 1 (authoritative count)", evaluation.Metrics.TasksFailed)
	}
	if evaluation.Metrics.TotalCostUsd != 1.23 {
		t.Fatalf("TotalCostUsd = %v, want 1.23 (authoritative cost)", evaluation.Metrics.TotalCostUsd)
	}
	if state.LastScan != nil || state.LastPlan != nil {
		t.Fatal("expected inter-phase state to be reset after Eval")
	}
}

func TestBudgetBlockedScanChargesNoCost(t *testing.T) {
	l := ledger.New()
	g := budget.New(l, model.BudgetConfig{PerCallUsd: 0.001})
	r := router.New(router.ModeSimulation, textgen.NewMockAdapter("mock"))
	w := buildworker.NewMockWorker()
	e := New(l, g, r, w, nil)
	e.Costs.ScanUsd = 1.0

	_, result, _ := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
	if result.Success {
		t.Fatal("expected Scan to be budget-blocked")
	}
	if l.Total() != 0 {
		t.Fatalf("Ledger.Total() = %v, want 0 (no call should have been charged)", l.Total())
	}
}

func TestPlanAppendsOneDecisionPerProposedTask(t *testing.T) {
	e := newTestExecutor()
	store := &fakeDecisionStore{}
	e.Decisions = store
	e.Router = router.New(router.ModeSimulation, fakeGenAdapter{body: `{
		"summary": "focus on reliability",
		"priorities": [{
			"objectiveId": "obj-1",
			"rationale": "flaky tests are blocking releases",
			"proposedTasks": [
				{"title": "Fix retry loop", "description": "stabilize the retry loop", "estimatedComplexity": "small", "suggestedTier": 0},
				{"title": "Deploy to production", "description": "ship it", "estimatedComplexity": "medium", "suggestedTier": 0}
			]
		}]
	}`})

	_, _, scanState := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
	_, result, _ := e.Plan(context.Background(), "cycle-1", 0, scanState, []model.Objective{activeObjective()})
	if !result.Success {
		t.Fatalf("expected Plan to succeed, got error: %s", result.Error)
	}

	if len(store.decisions) != 2 {
		t.Fatalf("len(decisions) = %d, want 2", len(store.decisions))
	}
	for _, d := range store.decisions {
		if d.Phase != "PLAN" || d.CycleID != "cycle-1" {
			t.Fatalf("unexpected decision entry: %+v", d)
		}
	}
	if store.decisions[1].Outcome != "tier=2" {
		t.Fatalf("decision[1].Outcome = %q, want tier=2 (T2 keyword task)", store.decisions[1].Outcome)
	}
}

func TestPlanWithNoDecisionStoreIsNoOp(t *testing.T) {
	e := newTestExecutor()
	_, _, scanState := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
	_, result, _ := e.Plan(context.Background(), "cycle-1", 0, scanState, []model.Objective{activeObjective()})
	if !result.Success {
		t.Fatalf("expected Plan to succeed, got error: %s", result.Error)
	}
}

func TestEvalAppendsOneExperimentPerRecommendation(t *testing.T) {
	e := newTestExecutor()
	store := &fakeDecisionStore{}
	e.Decisions = store
	e.Router = router.New(router.ModeSimulation, fakeGenAdapter{body: `{
		"recommendations": [
			{"summary": "raise the daily cap", "priority": "high", "truth_label": "unverified"},
			{"summary": "retire the research phase cache", "priority": "low", "truth_label": "unverified"}
		]
	}`})
	tasks := []model.Task{{ID: "a", State: model.TaskCompleted}}
	cycle := model.Cycle{ID: "cycle-1", Number: 1}

	_, result, _ := e.Eval(context.Background(), "cycle-1", 0, cycle, tasks)
	if !result.Success {
		t.Fatalf("expected Eval to succeed, got error: %s", result.Error)
	}
	if len(store.experiments) != 2 {
		t.Fatalf("len(experiments) = %d, want 2", len(store.experiments))
	}
	for _, exp := range store.experiments {
		if exp.Result != "pending" || exp.CycleID != "cycle-1" {
			t.Fatalf("unexpected experiment entry: %+v", exp)
		}
	}
}

func TestAttemptCooldownBlocksAfterRepeatedScanFailures(t *testing.T) {
	l := ledger.New()
	g := budget.New(l, model.BudgetConfig{PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 100, WeeklyUsd: 100})
	// An adapter that always errors, so every Scan attempt genuinely fails.
	r := router.New(router.ModeSimulation, erroringAdapter{})
	w := buildworker.NewMockWorker()
	e := New(l, g, r, w, nil)
	e.AttemptCooldown = time.Minute

	for i := 0; i < maxPhaseAttempts; i++ {
		_, result, _ := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
		if result.Success {
			t.Fatalf("attempt %d: expected Scan to fail via the erroring adapter", i)
		}
	}

	_, blocked, _ := e.Scan(context.Background(), "cycle-1", 0, []model.Objective{activeObjective()})
	if blocked.Success {
		t.Fatal("expected Scan to be blocked by the attempt cooldown after repeated failures")
	}
	if blocked.Error == "" {
		t.Fatal("expected a precondition error message")
	}
}

var errGenerate = errors.New("adapter unavailable")

type erroringAdapter struct{}

func (erroringAdapter) Name() string     { return "erroring" }
func (erroringAdapter) Provider() string { return "erroring" }
func (erroringAdapter) Model() string    { return "erroring" }
func (erroringAdapter) Generate(ctx context.Context, req textgen.Request) (textgen.Result, error) {
	return textgen.Result{}, errGenerate
}

// Package phase implements the per-phase adapter: it turns the current
// cycle's inputs into a phase result, charging costs through the Cost
// Ledger and gated by the Budget Guard. Grounded on the teacher's
// chief.go dispatch-then-parse pattern and cost_control.go's pre-call
// gating, generalized from chief's multi-team ceremonies to the five
// fixed SCAN/PLAN/BUILD/SHIP_CHECK/EVAL phases.
package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cortex-work/engine/internal/budget"
	"github.com/cortex-work/engine/internal/buildworker"
	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/model"
	"github.com/cortex-work/engine/internal/router"
	"github.com/cortex-work/engine/internal/textgen"
	"github.com/cortex-work/engine/internal/tier"
)

// Result is the common phase outcome shape from SPEC_FULL.md §4.6.
type Result struct {
	Success   bool
	CostUsd   float64
	Error     string
	Artifacts []buildworker.Artifact
}

// EstimatedCosts gives each phase's conservative per-call cost estimate
// used for the Budget Guard pre-call check, before the real adapter cost
// is known.
type EstimatedCosts struct {
	ScanUsd      float64
	PlanUsd      float64
	BuildUsd     float64
	ShipCheckUsd float64
	EvalUsd      float64
}

func defaultEstimatedCosts() EstimatedCosts {
	return EstimatedCosts{ScanUsd: 0.05, PlanUsd: 0.05, BuildUsd: 0.10, ShipCheckUsd: 0.05, EvalUsd: 0.05}
}

// State holds the inter-phase data carried within one cycle only (never
// persisted), reset at the end of EVAL per SPEC_FULL.md §4.6.
type State struct {
	LastScan  *model.Scan
	LastPlan  *model.Plan
	LastTasks []model.Task
}

// DecisionStore is the narrow slice of store.Store the Executor needs to
// append to the decision and experiment log streams from SPEC_FULL.md's
// supplemental features. Scoped the same way approval.Queue narrows its
// TaskStore dependency, rather than taking a concrete *store.Store.
type DecisionStore interface {
	AppendDecisionLog(entry *model.DecisionLogEntry) error
	AppendExperimentLog(entry *model.ExperimentLogEntry) error
}

// Executor runs one phase at a time.
type Executor struct {
	Ledger      *ledger.Ledger
	Guard       *budget.Guard
	Router      *router.Router
	BuildWorker buildworker.Worker
	Logger      *slog.Logger
	Costs       EstimatedCosts

	// Decisions receives decision/experiment log appends during PLAN and
	// EVAL. Nil disables logging (used by callers that don't need it, e.g.
	// tests exercising a single phase in isolation).
	Decisions DecisionStore

	// ForceConservativePct, when > 0, is compared against weekly budget
	// usage before every router resolution; crossing it steers SCAN, PLAN,
	// and EVAL to the cheapest configured provider. See SPEC_FULL.md
	// supplemental feature 1.
	ForceConservativePct float64

	// AttemptCooldown bounds how often a phase may retry the same
	// objective after repeated failures. Zero disables the limiter. See
	// SPEC_FULL.md supplemental feature 2.
	AttemptCooldown time.Duration
	attempts        *attemptTracker
}

// New builds an Executor with default cost estimates.
func New(l *ledger.Ledger, g *budget.Guard, r *router.Router, w buildworker.Worker, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Ledger: l, Guard: g, Router: r, BuildWorker: w, Logger: logger,
		Costs: defaultEstimatedCosts(), attempts: newAttemptTracker(),
	}
}

func (e *Executor) charge(rec model.CostRecord) {
	e.Ledger.Record(rec)
}

func asAdapter(res router.Resolution) textgen.Adapter {
	a, _ := res.Adapter.(textgen.Adapter)
	return a
}

// resolve applies the cost-control escalation check (SPEC_FULL.md
// supplemental feature 1) before delegating to the Router, steering every
// role to the cheapest configured provider once weekly usage crosses
// ForceConservativePct.
func (e *Executor) resolve(role router.Role) router.Resolution {
	if e.Guard != nil && e.ForceConservativePct > 0 {
		force, reason := e.Guard.ShouldForceConservative(budget.ForceConservativeConfig{ForceAtWeeklyUsagePct: e.ForceConservativePct})
		e.Router.SetConservative(force)
		if force {
			e.Logger.Warn("forcing cheapest provider", "role", role, "reason", reason)
		}
	}
	return e.Router.Resolve(role)
}

// appendDecision records a PLAN decision (which priority/tier was chosen
// and why) if a DecisionStore is wired. Logging failures never fail the
// phase itself.
func (e *Executor) appendDecision(cycleID, summary, outcome string) {
	if e.Decisions == nil {
		return
	}
	entry := &model.DecisionLogEntry{
		ID: model.NewID(), CycleID: cycleID, Phase: "PLAN",
		Summary: summary, Outcome: outcome, CreatedAt: time.Now(),
	}
	if err := e.Decisions.AppendDecisionLog(entry); err != nil {
		e.Logger.Error("failed to append decision log", "error", err)
	}
}

// appendExperiment records an EVAL recommendation as a standing hypothesis
// with result "pending"; no later phase updates that result.
func (e *Executor) appendExperiment(cycleID, hypothesis string) {
	if e.Decisions == nil {
		return
	}
	entry := &model.ExperimentLogEntry{
		ID: model.NewID(), CycleID: cycleID, Hypothesis: hypothesis,
		Result: "pending", CreatedAt: time.Now(),
	}
	if err := e.Decisions.AppendExperimentLog(entry); err != nil {
		e.Logger.Error("failed to append experiment log", "error", err)
	}
}

// attemptKey builds the attemptTracker key for a phase. SCAN/PLAN/EVAL
// operate over the whole active-objective set at once, so the phase name
// alone is the key; BUILD/SHIP_CHECK iterate per-objective, so the
// objective ID distinguishes "the same objective" per SPEC_FULL.md.
func attemptKey(phaseName, objectiveID string) string {
	if objectiveID == "" {
		return phaseName
	}
	return objectiveID + ":" + phaseName
}

// checkAttemptCooldown returns a failed Result whose Error starts with
// "precondition: " if this phase/objective has failed too often in the
// rolling window.
func (e *Executor) checkAttemptCooldown(phaseName, objectiveID string) (Result, bool) {
	if e.attempts == nil || e.AttemptCooldown <= 0 {
		return Result{}, false
	}
	key := attemptKey(phaseName, objectiveID)
	blocked, reason := e.attempts.check(key, e.AttemptCooldown, e.AttemptCooldown, time.Now())
	if !blocked {
		return Result{}, false
	}
	return Result{Success: false, Error: "precondition: " + reason}, true
}

// recordPhaseFailure notes a genuine adapter/build/check failure for the
// attempt-cooldown limiter. Budget-guard rejections are not recorded here:
// the guard is already a stricter, independent admission mechanism.
func (e *Executor) recordPhaseFailure(phaseName, objectiveID string) {
	if e.attempts == nil || e.AttemptCooldown <= 0 {
		return
	}
	e.attempts.recordFailure(attemptKey(phaseName, objectiveID), time.Now())
}

// admit runs the Budget Guard pre-call check for a phase; on rejection it
// returns a failed Result carrying the guard's reason with no call made
// and no cost charged.
func admit(g *budget.Guard, estimated float64, taskID string, cycleSpend float64, provider string) (Result, bool) {
	decision := g.Check(budget.Request{EstimatedCostUsd: estimated, TaskID: taskID, CycleSpendUsd: cycleSpend, Provider: provider})
	if !decision.Allowed {
		return Result{Success: false, Error: fmt.Sprintf("budget blocked at %s: %s", decision.Level, decision.Reason)}, false
	}
	return Result{}, true
}

// --- SCAN ---

type scanResponse struct {
	Findings []findingJSON `json:"findings"`
}

type findingJSON struct {
	Summary     string   `json:"summary"`
	Relevance   float64  `json:"relevance"`
	TruthStatus string   `json:"truthStatus"`
	Confidence  string   `json:"confidence"`
	Sources     []string `json:"sources"`
	ObjectiveID string   `json:"objectiveId"`
}

// Scan runs the SCAN phase against the active objectives.
func (e *Executor) Scan(ctx context.Context, cycleID string, cycleSpend float64, objectives []model.Objective) (model.Scan, Result, State) {
	if len(objectives) == 0 {
		return model.Scan{}, Result{Success: false, Error: "no active objectives"}, State{}
	}
	if blocked, ok := e.checkAttemptCooldown("SCAN", ""); ok {
		return model.Scan{}, blocked, State{}
	}

	res := e.resolve(router.RoleResearch)
	if blocked, ok := admit(e.Guard, e.Costs.ScanUsd, "", cycleSpend, res.ProviderName); !ok {
		return model.Scan{}, blocked, State{}
	}

	var objIDs []string
	var objLines strings.Builder
	for _, o := range objectives {
		objIDs = append(objIDs, o.ID)
		fmt.Fprintf(&objLines, "- [%s] %s: %s\n", o.ID, o.Title, o.Description)
	}

	adapter := asAdapter(res)
	start := time.Now()
	gen, err := adapter.Generate(ctx, textgen.Request{
		UserPrompt: "Scan the following active objectives for relevant findings:\n" + objLines.String(),
		JSONMode:   true,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.recordPhaseFailure("SCAN", "")
		return model.Scan{}, Result{Success: false, Error: err.Error()}, State{}
	}

	findings := parseScanFindings(gen.Text)

	scan := model.Scan{
		ID:           model.NewID(),
		CycleID:      cycleID,
		ObjectiveIDs: objIDs,
		Findings:     findings,
		CostUsd:      gen.CostUsd,
		Tokens:       gen.InputTokens + gen.OutputTokens,
		LatencyMs:    latency,
		CreatedAt:    time.Now(),
	}

	e.charge(model.CostRecord{
		Timestamp: scan.CreatedAt, Phase: "SCAN", Provider: res.ProviderName,
		InputTokens: gen.InputTokens, OutputTokens: gen.OutputTokens, CostUsd: gen.CostUsd, LatencyMs: latency,
	})

	return scan, Result{Success: true, CostUsd: gen.CostUsd}, State{LastScan: &scan}
}

func parseScanFindings(text string) []model.Finding {
	var parsed scanResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return []model.Finding{{Summary: "parse error", Relevance: 0, TruthLabel: model.TruthLabel{TruthStatus: model.StatusSpeculative, Confidence: model.ConfidenceLow}}}
	}

	findings := make([]model.Finding, 0, len(parsed.Findings))
	for _, f := range parsed.Findings {
		findings = append(findings, model.Finding{
			Summary:     f.Summary,
			Relevance:   clamp01(f.Relevance),
			TruthLabel:  model.TruthLabel{TruthStatus: coerceScanTruthStatus(f.TruthStatus), Confidence: coerceConfidence(f.Confidence)},
			Sources:     f.Sources,
			ObjectiveID: f.ObjectiveID,
		})
	}
	return findings
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func coerceScanTruthStatus(s string) model.TruthStatus {
	switch model.TruthStatus(s) {
	case model.StatusSpeculative, model.StatusHypothesis:
		return model.TruthStatus(s)
	default:
		return model.StatusSpeculative
	}
}

func coerceConfidence(s string) model.Confidence {
	switch model.Confidence(s) {
	case model.ConfidenceLow, model.ConfidenceMedium, model.ConfidenceHigh:
		return model.Confidence(s)
	default:
		return model.ConfidenceLow
	}
}

// --- PLAN ---

type planResponse struct {
	Summary    string         `json:"summary"`
	Priorities []priorityJSON `json:"priorities"`
}

type priorityJSON struct {
	ObjectiveID   string            `json:"objectiveId"`
	Rationale     string            `json:"rationale"`
	ProposedTasks []proposedTaskJSON `json:"proposedTasks"`
}

type proposedTaskJSON struct {
	Title               string `json:"title"`
	Description         string `json:"description"`
	EstimatedComplexity string `json:"estimatedComplexity"`
	SuggestedTier       *int   `json:"suggestedTier"`
}

// Plan runs the PLAN phase. Fails if scanState has no LastScan.
func (e *Executor) Plan(ctx context.Context, cycleID string, cycleSpend float64, scanState State, objectives []model.Objective) (model.Plan, Result, State) {
	if scanState.LastScan == nil {
		return model.Plan{}, Result{Success: false, Error: "no scan result available"}, scanState
	}
	if blocked, ok := e.checkAttemptCooldown("PLAN", ""); ok {
		return model.Plan{}, blocked, scanState
	}

	res := e.resolve(router.RolePlanning)
	if blocked, ok := admit(e.Guard, e.Costs.PlanUsd, "", cycleSpend, res.ProviderName); !ok {
		return model.Plan{}, blocked, scanState
	}

	var findingLines strings.Builder
	for _, f := range scanState.LastScan.Findings {
		fmt.Fprintf(&findingLines, "- %s (relevance %.2f)\n", f.Summary, f.Relevance)
	}

	adapter := asAdapter(res)
	start := time.Now()
	gen, err := adapter.Generate(ctx, textgen.Request{
		UserPrompt: "Given these findings, produce a strategy:\n" + findingLines.String(),
		JSONMode:   true,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.recordPhaseFailure("PLAN", "")
		return model.Plan{}, Result{Success: false, Error: err.Error()}, scanState
	}

	firstObjectiveID := ""
	if len(objectives) > 0 {
		firstObjectiveID = objectives[0].ID
	}
	strategy := parsePlanStrategy(gen.Text, firstObjectiveID)

	plan := model.Plan{
		ID:        model.NewID(),
		CycleID:   cycleID,
		ScanID:    scanState.LastScan.ID,
		Strategy:  strategy,
		CreatedAt: time.Now(),
	}

	e.charge(model.CostRecord{
		Timestamp: plan.CreatedAt, Phase: "PLAN", Provider: res.ProviderName,
		InputTokens: gen.InputTokens, OutputTokens: gen.OutputTokens, CostUsd: gen.CostUsd, LatencyMs: latency,
	})

	for _, p := range strategy.Priorities {
		for _, pt := range p.ProposedTasks {
			resolvedTier := tier.Resolve(pt.Title, pt.Description, model.AutonomyTier(pt.SuggestedTier))
			e.appendDecision(cycleID,
				fmt.Sprintf("objective %s: proposed %q (%s complexity) — %s", p.ObjectiveID, pt.Title, pt.EstimatedComplexity, p.Rationale),
				fmt.Sprintf("tier=%d", resolvedTier))
		}
	}

	nextState := scanState
	nextState.LastPlan = &plan
	return plan, Result{Success: true, CostUsd: gen.CostUsd}, nextState
}

func parsePlanStrategy(text, fallbackObjectiveID string) model.Strategy {
	var parsed planResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return model.Strategy{Summary: "parse error"}
	}

	priorities := make([]model.Priority, 0, len(parsed.Priorities))
	for _, p := range parsed.Priorities {
		objID := p.ObjectiveID
		if objID == "" {
			objID = fallbackObjectiveID
		}

		tasks := make([]model.ProposedTask, 0, len(p.ProposedTasks))
		for _, pt := range p.ProposedTasks {
			tasks = append(tasks, model.ProposedTask{
				Title:               pt.Title,
				Description:         pt.Description,
				EstimatedComplexity: coerceComplexity(pt.EstimatedComplexity),
				SuggestedTier:       coerceSuggestedTier(pt.SuggestedTier),
			})
		}

		priorities = append(priorities, model.Priority{
			ObjectiveID:   objID,
			Rationale:     p.Rationale,
			ProposedTasks: tasks,
		})
	}

	return model.Strategy{Summary: parsed.Summary, Priorities: priorities}
}

func coerceComplexity(s string) string {
	switch s {
	case "trivial", "small", "medium", "large":
		return s
	default:
		return "medium"
	}
}

func coerceSuggestedTier(t *int) int {
	if t == nil || *t < 0 || *t > 2 {
		return 0
	}
	return *t
}

// --- BUILD ---

// Build runs the BUILD phase: for each priority x proposed task, resolves
// tier, creates a Task, and either gates it for approval (T2) or invokes
// the build worker.
func (e *Executor) Build(ctx context.Context, cycleID string, cycleSpend float64, planState State, perTaskDefaultBudget float64) ([]model.Task, Result, State) {
	if planState.LastPlan == nil {
		return nil, Result{Success: false, Error: "no plan result available"}, planState
	}

	res := e.Router.ResolveBuildWorker()

	var tasks []model.Task
	var totalCost float64
	for _, priority := range planState.LastPlan.Strategy.Priorities {
		for _, proposed := range priority.ProposedTasks {
			suggested := model.AutonomyTier(proposed.SuggestedTier)
			resolvedTier := tier.Resolve(proposed.Title, proposed.Description, suggested)

			now := time.Now()
			task := model.Task{
				ID:            model.NewID(),
				ObjectiveID:   priority.ObjectiveID,
				CycleID:       cycleID,
				Title:         proposed.Title,
				Description:   proposed.Description,
				State:         model.TaskBuilding,
				AutonomyTier:  resolvedTier,
				BudgetCapUsd:  perTaskDefaultBudget,
				ActualCostUsd: 0,
				TruthLabel:    model.TruthLabel{TruthStatus: model.StatusHypothesis, Confidence: model.ConfidenceMedium},
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			if resolvedTier == model.TierT2 {
				task.State = model.TaskAwaitingApproval
				tasks = append(tasks, task)
				continue
			}

			if blocked, ok := e.checkAttemptCooldown("BUILD", priority.ObjectiveID); ok {
				task.State = model.TaskFailed
				task.Error = blocked.Error
				tasks = append(tasks, task)
				continue
			}

			if blocked, ok := admit(e.Guard, e.Costs.BuildUsd, task.ID, cycleSpend+totalCost, res.ProviderName); !ok {
				task.State = model.TaskFailed
				task.Error = blocked.Error
				tasks = append(tasks, task)
				continue
			}

			execResult, err := e.BuildWorker.Execute(ctx, buildworker.Task{
				ID:          task.ID,
				Instruction: task.Title + "\n\n" + task.Description,
			})
			if err != nil {
				e.recordPhaseFailure("BUILD", priority.ObjectiveID)
				task.State = model.TaskFailed
				task.Error = err.Error()
				tasks = append(tasks, task)
				continue
			}

			task.ActualCostUsd += execResult.CostUsd
			totalCost += execResult.CostUsd
			e.charge(model.CostRecord{
				Timestamp: time.Now(), Phase: "BUILD", TaskID: task.ID, Provider: res.ProviderName,
				CostUsd: execResult.CostUsd, LatencyMs: execResult.LatencyMs,
			})

			if execResult.Success {
				task.State = model.TaskReviewing
				for _, a := range execResult.Artifacts {
					task.Artifacts = append(task.Artifacts, model.Artifact{Type: model.ArtifactType(a.Type), Ref: a.Ref})
				}
			} else {
				e.recordPhaseFailure("BUILD", priority.ObjectiveID)
				task.State = model.TaskFailed
				task.Error = execResult.Error
			}
			tasks = append(tasks, task)
		}
	}

	nextState := planState
	nextState.LastTasks = tasks
	return tasks, Result{Success: true, CostUsd: totalCost}, nextState
}

// --- SHIP_CHECK ---

// ShipCheck runs the review pass over every task currently in state
// reviewing, leaving other task states untouched.
func (e *Executor) ShipCheck(ctx context.Context, cycleID string, cycleSpend float64, tasks []model.Task) ([]model.Task, []model.Run, Result) {
	res := e.Router.ResolveBuildWorker()

	out := make([]model.Task, len(tasks))
	copy(out, tasks)
	var runs []model.Run
	var totalCost float64

	for i := range out {
		if out[i].State != model.TaskReviewing {
			continue
		}

		if blocked, ok := e.checkAttemptCooldown("SHIP_CHECK", out[i].ObjectiveID); ok {
			out[i].State = model.TaskFailed
			out[i].Error = blocked.Error
			continue
		}

		if blocked, ok := admit(e.Guard, e.Costs.ShipCheckUsd, out[i].ID, cycleSpend+totalCost, res.ProviderName); !ok {
			out[i].State = model.TaskFailed
			out[i].Error = blocked.Error
			continue
		}

		buildArtifacts := make([]buildworker.Artifact, 0, len(out[i].Artifacts))
		for _, a := range out[i].Artifacts {
			buildArtifacts = append(buildArtifacts, buildworker.Artifact{Type: buildworker.ArtifactType(a.Type), Ref: a.Ref})
		}

		checkResult, err := e.BuildWorker.Check(ctx, buildworker.Task{ID: out[i].ID}, buildworker.BuildSummary{Artifacts: buildArtifacts})
		success := err == nil && checkResult.Approved
		var checkErr string
		if err != nil {
			checkErr = err.Error()
		} else if !checkResult.Approved {
			checkErr = strings.Join(checkResult.Issues, "; ")
		}

		totalCost += checkResult.CostUsd
		out[i].ActualCostUsd += checkResult.CostUsd
		e.charge(model.CostRecord{
			Timestamp: time.Now(), Phase: "SHIP_CHECK", TaskID: out[i].ID, Provider: res.ProviderName,
			CostUsd: checkResult.CostUsd, LatencyMs: checkResult.LatencyMs,
		})

		runs = append(runs, model.Run{
			ID: model.NewID(), CycleID: cycleID, TaskID: out[i].ID, Phase: "SHIP_CHECK",
			Provider: res.ProviderName, Success: success, Error: checkErr,
			CostUsd: checkResult.CostUsd, LatencyMs: checkResult.LatencyMs, CreatedAt: time.Now(),
		})

		if success {
			completedAt := time.Now()
			out[i].State = model.TaskCompleted
			out[i].CompletedAt = &completedAt
			out[i].TruthLabel = model.TruthLabel{TruthStatus: model.StatusImplemented, Confidence: model.ConfidenceMedium}
		} else {
			e.recordPhaseFailure("SHIP_CHECK", out[i].ObjectiveID)
			out[i].State = model.TaskFailed
			out[i].Error = checkErr
		}
	}

	return out, runs, Result{Success: true, CostUsd: totalCost}
}

// --- EVAL ---

type evalResponse struct {
	Metrics         evalMetricsJSON        `json:"metrics"`
	Insights        []string               `json:"insights"`
	Recommendations []recommendationJSON   `json:"recommendations"`
}

type evalMetricsJSON struct {
	ObjectiveProgress map[string]float64 `json:"objectiveProgress"`
}

type recommendationJSON struct {
	Summary     string `json:"summary"`
	Priority    string `json:"priority"`
	TruthStatus string `json:"truthStatus"`
	Confidence  string `json:"confidence"`
}

// Eval runs the EVAL phase and resets inter-phase state.
func (e *Executor) Eval(ctx context.Context, cycleID string, cycleSpend float64, cycle model.Cycle, tasks []model.Task) (model.Evaluation, Result, State) {
	if blocked, ok := e.checkAttemptCooldown("EVAL", ""); ok {
		return model.Evaluation{}, blocked, State{}
	}

	res := e.resolve(router.RolePlanning)
	if blocked, ok := admit(e.Guard, e.Costs.EvalUsd, "", cycleSpend, res.ProviderName); !ok {
		return model.Evaluation{}, blocked, State{}
	}

	var roster strings.Builder
	var completed, failed int
	for _, t := range tasks {
		fmt.Fprintf(&roster, "- %s: %s\n", t.Title, t.State)
		switch t.State {
		case model.TaskCompleted:
			completed++
		case model.TaskFailed:
			failed++
		}
	}

	adapter := asAdapter(res)
	start := time.Now()
	gen, err := adapter.Generate(ctx, textgen.Request{
		UserPrompt: fmt.Sprintf("Evaluate cycle %d. Task roster:\n%s", cycle.Number, roster.String()),
		JSONMode:   true,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.recordPhaseFailure("EVAL", "")
		return model.Evaluation{}, Result{Success: false, Error: err.Error()}, State{}
	}

	parsed := parseEvalResponse(gen.Text)

	evaluation := model.Evaluation{
		ID:      model.NewID(),
		CycleID: cycleID,
		Period:  model.Period{Start: cycle.StartedAt, End: time.Now()},
		Metrics: model.EvalMetrics{
			TasksCompleted:    completed,
			TasksFailed:       failed,
			TotalCostUsd:      cycle.TotalCostUsd,
			ObjectiveProgress: parsed.Metrics.ObjectiveProgress,
		},
		Insights:        parsed.Insights,
		Recommendations: parsed.Recommendations,
		CreatedAt:       time.Now(),
	}

	e.charge(model.CostRecord{
		Timestamp: evaluation.CreatedAt, Phase: "EVAL", Provider: res.ProviderName,
		InputTokens: gen.InputTokens, OutputTokens: gen.OutputTokens, CostUsd: gen.CostUsd, LatencyMs: latency,
	})

	for _, rec := range evaluation.Recommendations {
		e.appendExperiment(cycleID, fmt.Sprintf("[%s] %s", rec.Priority, rec.Summary))
	}

	return evaluation, Result{Success: true, CostUsd: gen.CostUsd}, State{}
}

func parseEvalResponse(text string) struct {
	Metrics         evalMetricsJSON
	Insights        []string
	Recommendations []model.Recommendation
} {
	var out struct {
		Metrics         evalMetricsJSON
		Insights        []string
		Recommendations []model.Recommendation
	}

	var parsed evalResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return out
	}

	out.Metrics = parsed.Metrics
	out.Insights = parsed.Insights
	for _, r := range parsed.Recommendations {
		out.Recommendations = append(out.Recommendations, model.Recommendation{
			Summary:    r.Summary,
			Priority:   coerceRecommendationPriority(r.Priority),
			TruthLabel: model.TruthLabel{TruthStatus: coerceScanTruthStatus(r.TruthStatus), Confidence: coerceConfidence(r.Confidence)},
		})
	}
	return out
}

func coerceRecommendationPriority(s string) model.RecommendationPriority {
	switch model.RecommendationPriority(s) {
	case model.RecommendationLow, model.RecommendationMedium, model.RecommendationHigh:
		return model.RecommendationPriority(s)
	default:
		return model.RecommendationMedium
	}
}

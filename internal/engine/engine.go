// Package engine implements the Orchestrator: the single long-running
// loop that drives the fixed SCAN -> PLAN -> BUILD -> SHIP_CHECK -> EVAL
// cycle against the store's active objectives, gated by the state
// machine's legal-transition table and the Budget Guard's admission
// checks. Grounded on the teacher's chief.go dependency-injection
// constructor and scheduler.go's ConfigManager-reread idiom, but
// restructured around a single deferred-timer schedule.Scheduler instead
// of a repeating ticker, since spec.md's Orchestrator reschedules once
// per completed cycle rather than ticking at a fixed interval.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortex-work/engine/internal/approval"
	"github.com/cortex-work/engine/internal/budget"
	"github.com/cortex-work/engine/internal/config"
	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/model"
	"github.com/cortex-work/engine/internal/phase"
	"github.com/cortex-work/engine/internal/schedule"
	"github.com/cortex-work/engine/internal/statemachine"
	"github.com/cortex-work/engine/internal/store"
)

// EventType names the handful of events the Orchestrator broadcasts.
type EventType string

const (
	EventStateChanged      EventType = "state_changed"
	EventPhaseComplete     EventType = "phase_complete"
	EventTaskUpdate        EventType = "task_update"
	EventApprovalRequired  EventType = "approval_required"
	EventCostAlert         EventType = "cost_alert"
	EventBudgetExceeded    EventType = "budget_exceeded"
)

// Event is the payload broadcast to every registered listener. Fields not
// relevant to a given EventType are left zero.
type Event struct {
	Type      EventType
	From      model.LoopState
	To        model.LoopState
	CycleID   string
	Phase     string
	Success   bool
	CostUsd   float64
	Error     string
	TaskID    string
	At        time.Time
}

// Listener receives every Event the Orchestrator broadcasts. Listeners
// run synchronously on the Orchestrator's own goroutine and must not
// block or call back into the Orchestrator.
type Listener func(Event)

// PresetHandler runs a named preset in place of the default cycle body.
// Registered presets are looked up by Trigger; an empty preset name runs
// the default SCAN..EVAL cycle.
type PresetHandler func(ctx context.Context) error

// ErrAlreadyRunning is returned by Trigger when a cycle is already in
// flight; the engine allows at most one cycle at a time.
var ErrAlreadyRunning = fmt.Errorf("engine: a cycle is already running")

// ErrNotRunning is returned by operations that require Start to have
// been called first.
var ErrNotRunning = fmt.Errorf("engine: orchestrator is not started")

// Orchestrator drives one cycle at a time against a fixed set of
// collaborators, all wired in at construction.
type Orchestrator struct {
	cfgMgr   config.ConfigManager
	cfgPath  string
	store    *store.Store
	ledger   *ledger.Ledger
	guard    *budget.Guard
	executor *phase.Executor
	approval *approval.Queue
	sched    *schedule.Scheduler
	logger   *slog.Logger

	mu        sync.Mutex
	started   bool
	cycling   bool
	state     model.EngineState
	listeners []Listener
	presets   map[string]PresetHandler

	runCtx context.Context
}

// New wires an Orchestrator from its collaborators. Every argument other
// than cfgPath and logger must be non-nil; a nil logger falls back to
// slog.Default().
func New(cfgMgr config.ConfigManager, cfgPath string, st *store.Store, l *ledger.Ledger, g *budget.Guard, exec *phase.Executor, aq *approval.Queue, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfgMgr:   cfgMgr,
		cfgPath:  cfgPath,
		store:    st,
		ledger:   l,
		guard:    g,
		executor: exec,
		approval: aq,
		sched:    schedule.New(logger),
		logger:   logger,
		presets:  make(map[string]PresetHandler),
	}
}

// OnEvent registers a listener that will receive every subsequent Event.
func (o *Orchestrator) OnEvent(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// RegisterPreset associates a name with a handler Trigger can invoke in
// place of the default cycle body.
func (o *Orchestrator) RegisterPreset(name string, handler PresetHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.presets[name] = handler
}

func (o *Orchestrator) broadcast(ev Event) {
	ev.At = time.Now()
	o.mu.Lock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// Start loads the persisted EngineState, forces it to idle if it is
// mid-cycle (a transient state left behind by a crash), and arms the
// scheduler for the first cycle. Per spec.md §4.8.1.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("engine: already started")
	}

	st, err := o.store.GetEngineState()
	if err != nil {
		return fmt.Errorf("engine: start: loading state: %w", err)
	}
	if st.LoopState != model.LoopIdle && st.LoopState != model.LoopPaused {
		o.logger.Warn("forcing idle on start: persisted state was mid-cycle", "state", st.LoopState)
		st.LoopState = model.LoopIdle
		st.CurrentCycleID = ""
		st.CurrentPhase = ""
		st.CurrentTaskID = ""
	}
	o.state = *st
	o.runCtx = ctx
	o.started = true

	if err := o.store.SaveEngineState(&o.state); err != nil {
		return fmt.Errorf("engine: start: persisting state: %w", err)
	}

	if o.state.LoopState == model.LoopIdle {
		o.armNextCycleLocked()
	}
	return nil
}

// Stop cancels any pending scheduled cycle and persists the current
// state. It does not interrupt a cycle already in flight; that cycle
// runs to its next phase boundary and then finds started=false and
// returns without rescheduling.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	o.started = false
	o.sched.Cancel()
	return o.store.SaveEngineState(&o.state)
}

// GetState returns a copy of the current engine state snapshot.
func (o *Orchestrator) GetState() model.EngineState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Pause cancels the scheduled next cycle and transitions to paused. It
// does not interrupt a cycle already running.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if o.state.LoopState == model.LoopPaused {
		o.mu.Unlock()
		return nil
	}
	from := o.state.LoopState
	to := statemachine.Paused
	if !statemachine.CanTransition(statemachine.LoopState(from), to) {
		o.mu.Unlock()
		return fmt.Errorf("engine: cannot pause from state %s", from)
	}
	o.sched.Cancel()
	o.state.LoopState = model.LoopState(to)
	o.state.NextCycleScheduledAt = nil
	err := o.store.SaveEngineState(&o.state)
	o.mu.Unlock()

	o.broadcast(Event{Type: EventStateChanged, From: from, To: model.LoopState(to)})
	return err
}

// Resume transitions out of paused back to idle and re-arms the
// scheduler. It is idempotent if the engine is not paused.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotRunning
	}
	if o.state.LoopState != model.LoopPaused {
		o.mu.Unlock()
		return nil
	}
	o.state.LoopState = model.LoopIdle
	err := o.store.SaveEngineState(&o.state)
	o.armNextCycleLocked()
	o.mu.Unlock()
	o.broadcast(Event{Type: EventStateChanged, From: model.LoopPaused, To: model.LoopIdle})
	return err
}

// ApproveTask moves a task out of awaiting_approval into building via the
// Approval Queue, then broadcasts a task_update event.
func (o *Orchestrator) ApproveTask(taskID string) error {
	if err := o.approval.Approve(taskID); err != nil {
		return err
	}
	o.broadcast(Event{Type: EventTaskUpdate, TaskID: taskID})
	return nil
}

// RejectTask moves a task out of awaiting_approval into failed via the
// Approval Queue, then broadcasts a task_update event.
func (o *Orchestrator) RejectTask(taskID, reason string) error {
	if err := o.approval.Reject(taskID, reason); err != nil {
		return err
	}
	o.broadcast(Event{Type: EventTaskUpdate, TaskID: taskID})
	return nil
}

// ReloadConfig re-reads the on-disk config and hot-swaps the Budget
// Guard's caps from it.
func (o *Orchestrator) ReloadConfig() error {
	if err := o.cfgMgr.Reload(o.cfgPath); err != nil {
		return fmt.Errorf("engine: reload config: %w", err)
	}
	o.guard.UpdateBudgets(o.cfgMgr.Get().Budget)
	return nil
}

// SetConfig replaces the live config in place (config.set over the control
// surface, as opposed to ReloadConfig's re-read-from-disk) and hot-swaps
// the Budget Guard's caps from it.
func (o *Orchestrator) SetConfig(cfg *config.Config) {
	o.cfgMgr.Set(cfg)
	o.guard.UpdateBudgets(o.cfgMgr.Get().Budget)
}

// armNextCycleLocked schedules the next automatic cycle after the
// configured cooldown. Caller must hold o.mu.
func (o *Orchestrator) armNextCycleLocked() {
	cooldown := o.cfgMgr.Get().General.CycleCooldown.Duration
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	fireAt := o.sched.Schedule(cooldown, func() {
		o.mu.Lock()
		if !o.started || o.state.LoopState != model.LoopIdle {
			o.mu.Unlock()
			return
		}
		ctx := o.runCtx
		o.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		if _, err := o.Trigger(ctx, ""); err != nil {
			o.logger.Warn("scheduled cycle did not start", "error", err)
		}
	})
	o.state.NextCycleScheduledAt = &fireAt
}

// Trigger runs one cycle synchronously: a preset name dispatches to a
// registered PresetHandler instead of the default SCAN..EVAL body. It
// returns ErrAlreadyRunning if a cycle is already in flight, per
// spec.md §5's single-cycle-in-flight rule.
func (o *Orchestrator) Trigger(ctx context.Context, preset string) (string, error) {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return "", ErrNotRunning
	}
	if o.cycling {
		o.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	if o.state.LoopState != model.LoopIdle {
		o.mu.Unlock()
		return "", fmt.Errorf("engine: cannot trigger: engine is %s", o.state.LoopState)
	}
	o.cycling = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cycling = false
		if o.started && o.state.LoopState == model.LoopIdle {
			o.armNextCycleLocked()
		}
		o.mu.Unlock()
	}()

	if preset != "" {
		o.mu.Lock()
		handler, ok := o.presets[preset]
		o.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("engine: unknown preset %q", preset)
		}
		return "", handler(ctx)
	}

	return o.runCycle(ctx)
}

// transition moves the engine's loop state from its current value to to,
// falling back through idle if the direct move is illegal, and broadcasts
// a state_changed event for every hop actually taken. It reports whether
// the target state was reached.
func (o *Orchestrator) transition(to statemachine.LoopState) bool {
	o.mu.Lock()
	from := statemachine.LoopState(o.state.LoopState)
	o.mu.Unlock()

	if statemachine.CanTransition(from, to) {
		o.setState(from, to)
		return true
	}
	if from != statemachine.Idle && statemachine.CanTransition(from, statemachine.Idle) && statemachine.CanTransition(statemachine.Idle, to) {
		o.setState(from, statemachine.Idle)
		o.setState(statemachine.Idle, to)
		return true
	}
	o.logger.Warn("no legal path for transition, skipping", "from", from, "to", to)
	return false
}

func (o *Orchestrator) setState(from, to statemachine.LoopState) {
	o.mu.Lock()
	o.state.LoopState = model.LoopState(to)
	_ = o.store.SaveEngineState(&o.state)
	o.mu.Unlock()
	o.broadcast(Event{Type: EventStateChanged, From: model.LoopState(from), To: model.LoopState(to)})
}

// runCycle implements spec.md §4.8.3: increment the cycle number, iterate
// the five phases in fixed order gated by the state machine, accumulate
// cost as it goes, and finalize the cycle and engine state once all
// phases have run or one has failed.
func (o *Orchestrator) runCycle(ctx context.Context) (string, error) {
	number, err := o.store.GetLatestCycleNumber()
	if err != nil {
		return "", fmt.Errorf("engine: run cycle: %w", err)
	}
	number++

	cfg := o.cfgMgr.Get()
	cycle := model.Cycle{
		ID:           model.NewID(),
		Number:       number,
		State:        model.CycleRunning,
		Mode:         cfg.Router.Mode,
		PhaseTimings: make(map[string]model.PhaseTiming),
		StartedAt:    time.Now(),
	}
	if err := o.store.SaveCycle(&cycle); err != nil {
		return "", fmt.Errorf("engine: run cycle: saving: %w", err)
	}

	o.mu.Lock()
	o.state.CurrentCycleID = cycle.ID
	o.mu.Unlock()

	objectives, err := o.store.ListActiveObjectives()
	if err != nil {
		return cycle.ID, o.failCycle(&cycle, fmt.Sprintf("loading objectives: %v", err))
	}

	var state phase.State
	var failed bool
	var failReason string

	for _, ph := range statemachine.Phases {
		o.mu.Lock()
		stillRunning := o.started
		o.mu.Unlock()
		if !stillRunning {
			break
		}

		target, _ := statemachine.StateForPhase(ph)
		if !o.transition(target) {
			failed = true
			failReason = fmt.Sprintf("no legal path into %s", target)
			break
		}
		o.mu.Lock()
		o.state.CurrentPhase = string(ph)
		o.mu.Unlock()

		started := time.Now()
		cycleSpend := cycle.TotalCostUsd

		var result phase.Result
		switch ph {
		case statemachine.PhaseScan:
			var scan model.Scan
			scan, result, state = o.executor.Scan(ctx, cycle.ID, cycleSpend, objectives)
			if result.Success {
				_ = o.store.SaveScan(&scan)
				o.recordRun(cycle.ID, "", string(ph), result)
			}
		case statemachine.PhasePlan:
			var plan model.Plan
			plan, result, state = o.executor.Plan(ctx, cycle.ID, cycleSpend, state, objectives)
			if result.Success {
				_ = o.store.SavePlan(&plan)
				o.recordRun(cycle.ID, "", string(ph), result)
			}
		case statemachine.PhaseBuild:
			var tasks []model.Task
			tasks, result, state = o.executor.Build(ctx, cycle.ID, cycleSpend, state, cfg.Phase.PerTaskDefaultUsd)
			for i := range tasks {
				_ = o.store.SaveTask(&tasks[i])
				if tasks[i].State == model.TaskAwaitingApproval {
					o.broadcast(Event{Type: EventApprovalRequired, CycleID: cycle.ID, TaskID: tasks[i].ID})
				}
			}
			cycle.TasksCreated += len(tasks)
			state.LastTasks = tasks
		case statemachine.PhaseShipCheck:
			var tasks []model.Task
			var runs []model.Run
			tasks, runs, result = o.executor.ShipCheck(ctx, cycle.ID, cycleSpend, state.LastTasks)
			for i := range tasks {
				_ = o.store.SaveTask(&tasks[i])
				if tasks[i].State == model.TaskCompleted {
					cycle.TasksCompleted++
				}
			}
			for i := range runs {
				_ = o.store.SaveRun(&runs[i])
			}
			state.LastTasks = tasks
		case statemachine.PhaseEval:
			var eval model.Evaluation
			eval, result, state = o.executor.Eval(ctx, cycle.ID, cycleSpend, cycle, state.LastTasks)
			if result.Success {
				_ = o.store.SaveEvaluation(&eval)
				o.recordRun(cycle.ID, "", string(ph), result)
			}
		}

		completed := time.Now()
		cycle.PhaseTimings[string(ph)] = model.PhaseTiming{StartedAt: &started, CompletedAt: &completed}
		cycle.TotalCostUsd += result.CostUsd
		_ = o.store.SaveCycle(&cycle)

		o.broadcast(Event{
			Type:    EventPhaseComplete,
			CycleID: cycle.ID,
			Phase:   string(ph),
			Success: result.Success,
			CostUsd: result.CostUsd,
			Error:   result.Error,
		})

		if !result.Success {
			failed = true
			failReason = result.Error
			break
		}
	}

	if failed {
		return cycle.ID, o.failCycle(&cycle, failReason)
	}
	return cycle.ID, o.completeCycle(&cycle)
}

func (o *Orchestrator) recordRun(cycleID, taskID, phaseName string, result phase.Result) {
	run := model.Run{
		ID:        model.NewID(),
		CycleID:   cycleID,
		TaskID:    taskID,
		Phase:     phaseName,
		Success:   result.Success,
		Error:     result.Error,
		CostUsd:   result.CostUsd,
		CreatedAt: time.Now(),
	}
	if err := o.store.SaveRun(&run); err != nil {
		o.logger.Warn("failed to record run", "phase", phaseName, "error", err)
	}
}

func (o *Orchestrator) failCycle(cycle *model.Cycle, reason string) error {
	now := time.Now()
	cycle.State = model.CycleFailed
	cycle.CompletedAt = &now
	_ = o.store.SaveCycle(cycle)

	o.mu.Lock()
	from := statemachine.LoopState(o.state.LoopState)
	o.mu.Unlock()
	if statemachine.CanTransition(from, statemachine.Error) {
		o.setState(from, statemachine.Error)
	}

	o.mu.Lock()
	o.state.Error = reason
	o.state.CurrentPhase = ""
	o.state.CurrentTaskID = ""
	_ = o.store.SaveEngineState(&o.state)
	curState := statemachine.LoopState(o.state.LoopState)
	o.mu.Unlock()

	if statemachine.CanTransition(curState, statemachine.Idle) {
		o.setState(curState, statemachine.Idle)
	}
	o.mu.Lock()
	o.state.CurrentCycleID = ""
	_ = o.store.SaveEngineState(&o.state)
	o.mu.Unlock()

	return fmt.Errorf("engine: cycle failed: %s", reason)
}

func (o *Orchestrator) completeCycle(cycle *model.Cycle) error {
	now := time.Now()
	cycle.State = model.CycleCompleted
	cycle.CompletedAt = &now
	if err := o.store.SaveCycle(cycle); err != nil {
		return fmt.Errorf("engine: completing cycle: %w", err)
	}

	o.mu.Lock()
	from := statemachine.LoopState(o.state.LoopState)
	o.mu.Unlock()
	if statemachine.CanTransition(from, statemachine.Idle) {
		o.setState(from, statemachine.Idle)
	}

	o.mu.Lock()
	o.state.Error = ""
	o.state.CurrentCycleID = ""
	o.state.CurrentPhase = ""
	o.state.CurrentTaskID = ""
	o.state.TotalCyclesCompleted++
	o.state.LastCycleCompletedAt = &now
	err := o.store.SaveEngineState(&o.state)
	o.mu.Unlock()
	return err
}

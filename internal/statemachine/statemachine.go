// Package statemachine defines the ten loop states of the engine and the
// legal transitions among them, plus the bijection between the five
// active phases and their associated loop states.
package statemachine

import "fmt"

// LoopState is re-exported here under the state machine's own name so this
// package has no import-time dependency on model; callers translate.
type LoopState string

const (
	Idle              LoopState = "idle"
	Scanning          LoopState = "scanning"
	Planning          LoopState = "planning"
	Building          LoopState = "building"
	ShipChecking      LoopState = "ship_checking"
	Evaluating        LoopState = "evaluating"
	Paused            LoopState = "paused"
	Error             LoopState = "error"
	AwaitingApproval  LoopState = "awaiting_approval"
	BudgetExceeded    LoopState = "budget_exceeded"
)

// Phase identifies one of the five active phases driven by the Orchestrator.
type Phase string

const (
	PhaseScan       Phase = "SCAN"
	PhasePlan       Phase = "PLAN"
	PhaseBuild      Phase = "BUILD"
	PhaseShipCheck  Phase = "SHIP_CHECK"
	PhaseEval       Phase = "EVAL"
)

// transitions is the legal-transition table from SPEC_FULL.md §4.9.1.
var transitions = map[LoopState]map[LoopState]bool{
	Idle:             set(Scanning, Paused),
	Scanning:         set(Planning, Error, Paused, BudgetExceeded),
	Planning:         set(Building, Error, Paused, BudgetExceeded),
	Building:         set(ShipChecking, Error, Paused, BudgetExceeded, AwaitingApproval),
	ShipChecking:     set(Evaluating, Error, Paused, BudgetExceeded),
	Evaluating:       set(Idle, Error, Paused),
	Paused:           set(Idle, Scanning, Planning, Building, ShipChecking, Evaluating),
	Error:            set(Idle, Scanning, Paused),
	AwaitingApproval: set(Building, Paused, Error),
	BudgetExceeded:   set(Idle, Paused),
}

func set(states ...LoopState) map[LoopState]bool {
	m := make(map[LoopState]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// phaseToState and stateToPhase implement the bijection between the five
// active phases and their loop states; every other loop state has no
// associated phase.
var phaseToState = map[Phase]LoopState{
	PhaseScan:      Scanning,
	PhasePlan:      Planning,
	PhaseBuild:     Building,
	PhaseShipCheck: ShipChecking,
	PhaseEval:      Evaluating,
}

var stateToPhase = func() map[LoopState]Phase {
	m := make(map[LoopState]Phase, len(phaseToState))
	for p, s := range phaseToState {
		m[s] = p
	}
	return m
}()

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to LoopState) bool {
	return transitions[from][to]
}

// Transition validates and returns 'to', or an error naming the illegal move.
func Transition(from, to LoopState) (LoopState, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("illegal transition: %s -> %s", from, to)
	}
	return to, nil
}

// StateForPhase returns the loop state associated with an active phase.
func StateForPhase(p Phase) (LoopState, bool) {
	s, ok := phaseToState[p]
	return s, ok
}

// PhaseForState returns the phase associated with a loop state, if any.
// Idle, Paused, Error, AwaitingApproval, and BudgetExceeded have none.
func PhaseForState(s LoopState) (Phase, bool) {
	p, ok := stateToPhase[s]
	return p, ok
}

// Phases is the fixed execution order the Orchestrator drives.
var Phases = []Phase{PhaseScan, PhasePlan, PhaseBuild, PhaseShipCheck, PhaseEval}

package statemachine

import "testing"

func TestLegalTransitionsFromSpec(t *testing.T) {
	legal := []struct{ from, to LoopState }{
		{Idle, Scanning}, {Idle, Paused},
		{Scanning, Planning}, {Scanning, Error}, {Scanning, Paused}, {Scanning, BudgetExceeded},
		{Planning, Building}, {Planning, Error}, {Planning, Paused}, {Planning, BudgetExceeded},
		{Building, ShipChecking}, {Building, Error}, {Building, Paused}, {Building, BudgetExceeded}, {Building, AwaitingApproval},
		{ShipChecking, Evaluating}, {ShipChecking, Error}, {ShipChecking, Paused}, {ShipChecking, BudgetExceeded},
		{Evaluating, Idle}, {Evaluating, Error}, {Evaluating, Paused},
		{Paused, Idle}, {Paused, Scanning}, {Paused, Planning}, {Paused, Building}, {Paused, ShipChecking}, {Paused, Evaluating},
		{Error, Idle}, {Error, Scanning}, {Error, Paused},
		{AwaitingApproval, Building}, {AwaitingApproval, Paused}, {AwaitingApproval, Error},
		{BudgetExceeded, Idle}, {BudgetExceeded, Paused},
	}
	for _, tt := range legal {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	illegal := []struct{ from, to LoopState }{
		{Idle, Building},
		{Idle, Evaluating},
		{Scanning, Idle},
		{Scanning, Building},
		{Evaluating, Scanning},
		{AwaitingApproval, Scanning},
		{AwaitingApproval, Evaluating},
		{BudgetExceeded, Scanning},
		{BudgetExceeded, Building},
	}
	for _, tt := range illegal {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
		}
	}
}

func TestTransitionReturnsErrorOnIllegalMove(t *testing.T) {
	if _, err := Transition(Idle, Building); err == nil {
		t.Fatal("expected error for illegal transition")
	}
	got, err := Transition(Idle, Scanning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Scanning {
		t.Fatalf("Transition() = %v, want %v", got, Scanning)
	}
}

func TestPhaseStateBijection(t *testing.T) {
	for _, p := range Phases {
		s, ok := StateForPhase(p)
		if !ok {
			t.Fatalf("StateForPhase(%s) missing", p)
		}
		back, ok := PhaseForState(s)
		if !ok || back != p {
			t.Fatalf("bijection broken for phase %s: state %s maps back to %s", p, s, back)
		}
	}

	nonPhaseStates := []LoopState{Idle, Paused, Error, AwaitingApproval, BudgetExceeded}
	for _, s := range nonPhaseStates {
		if _, ok := PhaseForState(s); ok {
			t.Fatalf("PhaseForState(%s) unexpectedly has a phase", s)
		}
	}
}

func TestStateMachineClosure(t *testing.T) {
	all := []LoopState{Idle, Scanning, Planning, Building, ShipChecking, Evaluating, Paused, Error, AwaitingApproval, BudgetExceeded}
	for from, dests := range transitions {
		for to := range dests {
			found := false
			for _, s := range all {
				if s == to {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("transition %s -> %s targets a state outside the closed set", from, to)
			}
		}
	}
}

package router

import (
	"testing"
)

type fakeAdapter struct{ name string }

func (f fakeAdapter) Name() string { return f.name }

var mock = fakeAdapter{name: "mock"}

func TestSimulationModeAlwaysReturnsMock(t *testing.T) {
	r := New(ModeSimulation, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})
	r.SetProviderEnabled("claude", true)

	res := r.Resolve(RoleBuilding)
	if !res.IsMock {
		t.Fatalf("expected mock in simulation mode, got %v", res)
	}
}

func TestSelectiveModeUsesPrimaryWhenEnabledAndRegistered(t *testing.T) {
	r := New(ModeSelective, mock)
	r.RegisterAdapter("gemini", fakeAdapter{name: "gemini"})
	r.SetProviderEnabled("gemini", true)

	res := r.Resolve(RoleResearch)
	if res.IsMock || res.ProviderName != "gemini" {
		t.Fatalf("expected live gemini adapter, got %+v", res)
	}
}

func TestSelectiveModeFallsBackWhenPrimaryDisabled(t *testing.T) {
	r := New(ModeSelective, mock)
	r.RegisterAdapter("openai", fakeAdapter{name: "openai"})
	r.SetProviderEnabled("gemini", false)
	r.SetProviderEnabled("openai", true)

	res := r.Resolve(RoleResearch)
	if res.IsMock || res.ProviderName != "openai" {
		t.Fatalf("expected fallback to openai, got %+v", res)
	}
}

func TestSelectiveModeFallsBackToMockWhenNeitherEnabled(t *testing.T) {
	r := New(ModeSelective, mock)
	r.RegisterAdapter("gemini", fakeAdapter{name: "gemini"})
	r.RegisterAdapter("openai", fakeAdapter{name: "openai"})

	res := r.Resolve(RoleResearch)
	if !res.IsMock {
		t.Fatalf("expected mock when neither provider enabled, got %+v", res)
	}
}

func TestLiveModePrefersPrimaryIfRegistered(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})

	res := r.Resolve(RoleBuilding)
	if res.IsMock || res.ProviderName != "claude" {
		t.Fatalf("expected live claude adapter, got %+v", res)
	}
}

func TestLiveModeFallsBackIfPrimaryUnregistered(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("openai", fakeAdapter{name: "openai"})

	res := r.Resolve(RoleReviewing)
	if res.IsMock || res.ProviderName != "openai" {
		t.Fatalf("expected fallback to openai, got %+v", res)
	}
}

func TestLiveModeNoFallbackForBuildingRole(t *testing.T) {
	r := New(ModeLive, mock)

	res := r.Resolve(RoleBuilding)
	if !res.IsMock {
		t.Fatalf("building has no fallback, expected mock, got %+v", res)
	}
}

func TestResolveBuildWorkerUsesClaudeOnly(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})

	res := r.ResolveBuildWorker()
	if res.IsMock || res.ProviderName != "claude" {
		t.Fatalf("expected claude build worker, got %+v", res)
	}
}

func TestUpdateConfigSwapsModeWithoutInvalidatingAdapters(t *testing.T) {
	r := New(ModeSimulation, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})

	if res := r.Resolve(RoleBuilding); !res.IsMock {
		t.Fatalf("expected mock before UpdateConfig, got %+v", res)
	}

	r.UpdateConfig(ModeLive)
	res := r.Resolve(RoleBuilding)
	if res.IsMock || res.ProviderName != "claude" {
		t.Fatalf("expected live claude adapter after UpdateConfig, got %+v", res)
	}
}

func TestConservativeModeSubstitutesCheapestProvider(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})
	r.RegisterAdapter("gemini", fakeAdapter{name: "gemini"})
	r.SetCheapestProvider("gemini")
	r.SetConservative(true)

	res := r.Resolve(RoleBuilding)
	if res.IsMock || res.ProviderName != "gemini" {
		t.Fatalf("expected conservative mode to steer building to gemini, got %+v", res)
	}
}

func TestConservativeModeFallsBackToNormalPrimaryWhenCheapestUnregistered(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})
	r.SetCheapestProvider("gemini")
	r.SetConservative(true)

	res := r.Resolve(RoleBuilding)
	if res.IsMock || res.ProviderName != "claude" {
		t.Fatalf("expected fallback to claude when cheapest gemini isn't registered, got %+v", res)
	}
}

func TestConservativeModeNoOpWhenCheapestMatchesPrimary(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})
	r.SetCheapestProvider("claude")
	r.SetConservative(true)

	res := r.Resolve(RoleBuilding)
	if res.IsMock || res.ProviderName != "claude" {
		t.Fatalf("expected claude unchanged when it is already the cheapest, got %+v", res)
	}
}

func TestConservativeModeDisabledLeavesNormalResolution(t *testing.T) {
	r := New(ModeLive, mock)
	r.RegisterAdapter("claude", fakeAdapter{name: "claude"})
	r.RegisterAdapter("gemini", fakeAdapter{name: "gemini"})
	r.SetCheapestProvider("gemini")

	res := r.Resolve(RoleBuilding)
	if res.IsMock || res.ProviderName != "claude" {
		t.Fatalf("expected normal primary claude when conservative mode is off, got %+v", res)
	}
}

func TestGetAssignmentExposesStaticTable(t *testing.T) {
	r := New(ModeLive, mock)
	a := r.GetAssignment(RoleResearch)
	if a.Primary != "gemini" || a.Fallback != "openai" {
		t.Fatalf("GetAssignment(research) = %+v, want {gemini openai}", a)
	}
}

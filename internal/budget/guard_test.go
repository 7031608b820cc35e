package budget

import (
	"testing"
	"time"

	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/model"
)

func newGuardAt(t *testing.T, cfg model.BudgetConfig, now time.Time) (*Guard, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	g := New(l, cfg)
	g.now = func() time.Time { return now }
	return g, l
}

func TestOrderedAdmissionFirstFailingWins(t *testing.T) {
	// Scenario D from spec.md §8.2: per-call fails first even though a
	// later check (per-provider-daily) would also fail.
	now := time.Now()
	cfg := model.BudgetConfig{
		PerCallUsd:  0.5,
		PerTaskUsd:  5,
		PerCycleUsd: 20,
		DailyUsd:    10,
		WeeklyUsd:   50,
		PerProviderDailyUsd: map[string]float64{"openai": 5},
	}
	g, l := newGuardAt(t, cfg, now)
	l.Record(model.CostRecord{Timestamp: now, Provider: "openai", TaskID: "t1", CostUsd: 4.9})

	decision := g.Check(Request{EstimatedCostUsd: 1.0, TaskID: "t1", CycleSpendUsd: 19.5, Provider: "openai"})
	if decision.Allowed {
		t.Fatal("expected decision to be blocked")
	}
	if decision.Level != LevelPerCall {
		t.Fatalf("Level = %v, want %v", decision.Level, LevelPerCall)
	}
}

func TestAtCapIsAdmitted(t *testing.T) {
	now := time.Now()
	cfg := model.BudgetConfig{
		PerCallUsd: 1.0, PerTaskUsd: 1.0, PerCycleUsd: 1.0, DailyUsd: 1.0, WeeklyUsd: 1.0,
	}
	g, _ := newGuardAt(t, cfg, now)

	decision := g.Check(Request{EstimatedCostUsd: 1.0, Provider: "openai"})
	if !decision.Allowed {
		t.Fatalf("estimate exactly at cap should be admitted, got blocked: %v", decision.Reason)
	}
}

func TestZeroGlobalCapBlocksAllPositiveSpend(t *testing.T) {
	// A 0 cap is a real cap, not "unlimited" — only per_provider_daily
	// treats an absent/zero entry as no cap.
	now := time.Now()
	cfg := model.BudgetConfig{}
	g, _ := newGuardAt(t, cfg, now)

	decision := g.Check(Request{EstimatedCostUsd: 0.01, Provider: "openai"})
	if decision.Allowed {
		t.Fatal("expected a 0 per-call cap to block any positive estimated cost")
	}
	if decision.Level != LevelPerCall {
		t.Fatalf("Level = %v, want %v", decision.Level, LevelPerCall)
	}
}

func TestZeroCostEmptyLedgerNoProviderEntryAlwaysAllowed(t *testing.T) {
	now := time.Now()
	cfg := model.BudgetConfig{
		PerCallUsd: 1, PerTaskUsd: 1, PerCycleUsd: 1, DailyUsd: 1, WeeklyUsd: 1,
	}
	g, _ := newGuardAt(t, cfg, now)

	decision := g.Check(Request{EstimatedCostUsd: 0, Provider: "unregistered"})
	if !decision.Allowed {
		t.Fatalf("zero-cost call with no provider cap entry should be allowed, got: %v", decision)
	}
}

func TestPerProviderDailySkippedWhenCapIsZeroOrAbsent(t *testing.T) {
	now := time.Now()
	cfg := model.BudgetConfig{
		PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 100, WeeklyUsd: 100,
		PerProviderDailyUsd: map[string]float64{"openai": 0},
	}
	g, l := newGuardAt(t, cfg, now)
	l.Record(model.CostRecord{Timestamp: now, Provider: "openai", CostUsd: 1000})

	decision := g.Check(Request{EstimatedCostUsd: 1, Provider: "openai"})
	if !decision.Allowed {
		t.Fatalf("a zero provider cap means no cap, should be allowed, got: %v", decision)
	}
}

func TestEachLevelRejectsInIsolation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		cfg  model.BudgetConfig
		req  Request
		seed []model.CostRecord
		want Level
	}{
		{
			name: "per_task",
			cfg:  model.BudgetConfig{PerCallUsd: 100, PerTaskUsd: 1},
			req:  Request{EstimatedCostUsd: 1, TaskID: "t1"},
			seed: []model.CostRecord{{Timestamp: now, TaskID: "t1", CostUsd: 0.5}},
			want: LevelPerTask,
		},
		{
			name: "per_cycle",
			cfg:  model.BudgetConfig{PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 10},
			req:  Request{EstimatedCostUsd: 1, CycleSpendUsd: 9.5},
			want: LevelPerCycle,
		},
		{
			name: "daily",
			cfg:  model.BudgetConfig{PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 10},
			req:  Request{EstimatedCostUsd: 1},
			seed: []model.CostRecord{{Timestamp: now, CostUsd: 9.5}},
			want: LevelDaily,
		},
		{
			name: "weekly",
			cfg:  model.BudgetConfig{PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 100, WeeklyUsd: 10},
			req:  Request{EstimatedCostUsd: 1},
			seed: []model.CostRecord{{Timestamp: now.Add(-3 * 24 * time.Hour), CostUsd: 9.5}},
			want: LevelWeekly,
		},
		{
			name: "per_provider_daily",
			cfg: model.BudgetConfig{
				PerCallUsd: 100, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 100, WeeklyUsd: 100,
				PerProviderDailyUsd: map[string]float64{"openai": 10},
			},
			req:  Request{EstimatedCostUsd: 1, Provider: "openai"},
			seed: []model.CostRecord{{Timestamp: now, Provider: "openai", CostUsd: 9.5}},
			want: LevelPerProviderDaily,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, l := newGuardAt(t, tt.cfg, now)
			for _, rec := range tt.seed {
				l.Record(rec)
			}
			decision := g.Check(tt.req)
			if decision.Allowed {
				t.Fatalf("expected rejection at level %v, got allowed", tt.want)
			}
			if decision.Level != tt.want {
				t.Fatalf("Level = %v, want %v", decision.Level, tt.want)
			}
		})
	}
}

func TestShouldForceConservative(t *testing.T) {
	now := time.Now()
	cfg := model.BudgetConfig{WeeklyUsd: 100}
	g, l := newGuardAt(t, cfg, now)
	l.Record(model.CostRecord{Timestamp: now, CostUsd: 81})

	force, reason := g.ShouldForceConservative(ForceConservativeConfig{ForceAtWeeklyUsagePct: 80})
	if !force {
		t.Fatal("expected escalation to trigger at 81% usage with 80% threshold")
	}
	if reason == "" {
		t.Fatal("expected a non-empty reason")
	}
}

func TestUpdateBudgetsHotReload(t *testing.T) {
	g, _ := newGuardAt(t, model.BudgetConfig{PerCallUsd: 1}, time.Now())
	if d := g.Check(Request{EstimatedCostUsd: 2}); d.Allowed {
		t.Fatal("expected rejection before reload")
	}
	g.UpdateBudgets(model.BudgetConfig{PerCallUsd: 5, PerTaskUsd: 100, PerCycleUsd: 100, DailyUsd: 100, WeeklyUsd: 100})
	if d := g.Check(Request{EstimatedCostUsd: 2}); !d.Allowed {
		t.Fatal("expected admission after raising per-call cap")
	}
}

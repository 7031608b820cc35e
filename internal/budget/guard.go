// Package budget implements pre-call admission control against a ledger of
// past spend and a set of hot-reloadable caps.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/cortex-work/engine/internal/ledger"
	"github.com/cortex-work/engine/internal/model"
)

// Level identifies which cap rejected a call.
type Level string

const (
	LevelPerCall           Level = "per_call"
	LevelPerTask           Level = "per_task"
	LevelPerCycle          Level = "per_cycle"
	LevelDaily             Level = "daily"
	LevelWeekly            Level = "weekly"
	LevelPerProviderDaily  Level = "per_provider_daily"
)

// Request describes a proposed call awaiting admission.
type Request struct {
	EstimatedCostUsd float64
	TaskID           string
	CycleSpendUsd    float64
	Provider         string
}

// Decision is the outcome of a Guard.Check call.
type Decision struct {
	Allowed bool
	Level   Level
	Reason  string
}

// Guard is the pre-call predicate over a Ledger and the current budgets.
type Guard struct {
	mu     sync.RWMutex
	ledger *ledger.Ledger
	cfg    model.BudgetConfig
	now    func() time.Time
}

// New creates a Guard reading from l and admitting against cfg.
func New(l *ledger.Ledger, cfg model.BudgetConfig) *Guard {
	return &Guard{ledger: l, cfg: cfg, now: time.Now}
}

// UpdateBudgets hot-swaps the caps the Guard admits against.
func (g *Guard) UpdateBudgets(cfg model.BudgetConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

// Budgets returns the current cap set.
func (g *Guard) Budgets() model.BudgetConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Check runs the six ordered admission checks from spec.md §4.2 and
// returns the first failing one, or Allowed=true if none fail. Every
// comparison is strict ">" — a call estimated exactly at a cap is admitted.
// A 0 cap is NOT "unlimited" for the five global caps below: 0 is a valid
// cap value and blocks all positive spend, same as any other number. Only
// per_provider_daily treats an absent-or-zero provider cap as "no cap for
// this provider", per spec.md §4.2.
func (g *Guard) Check(req Request) Decision {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	now := g.now()

	if req.EstimatedCostUsd > cfg.PerCallUsd {
		return Decision{Level: LevelPerCall, Reason: fmt.Sprintf(
			"per-call cap exceeded: estimated %.4f > cap %.4f", req.EstimatedCostUsd, cfg.PerCallUsd)}
	}

	if req.TaskID != "" {
		spent := g.ledger.CostForTask(req.TaskID)
		if spent+req.EstimatedCostUsd > cfg.PerTaskUsd {
			return Decision{Level: LevelPerTask, Reason: fmt.Sprintf(
				"per-task cap exceeded: %.4f + %.4f > cap %.4f", spent, req.EstimatedCostUsd, cfg.PerTaskUsd)}
		}
	}

	if req.CycleSpendUsd+req.EstimatedCostUsd > cfg.PerCycleUsd {
		return Decision{Level: LevelPerCycle, Reason: fmt.Sprintf(
			"per-cycle cap exceeded: %.4f + %.4f > cap %.4f", req.CycleSpendUsd, req.EstimatedCostUsd, cfg.PerCycleUsd)}
	}

	if daily := g.ledger.DailyCost(now); daily+req.EstimatedCostUsd > cfg.DailyUsd {
		return Decision{Level: LevelDaily, Reason: fmt.Sprintf(
			"daily cap exceeded: %.4f + %.4f > cap %.4f", daily, req.EstimatedCostUsd, cfg.DailyUsd)}
	}

	if weekly := g.ledger.WeeklyCost(now); weekly+req.EstimatedCostUsd > cfg.WeeklyUsd {
		return Decision{Level: LevelWeekly, Reason: fmt.Sprintf(
			"weekly cap exceeded: %.4f + %.4f > cap %.4f", weekly, req.EstimatedCostUsd, cfg.WeeklyUsd)}
	}

	if cap, ok := cfg.PerProviderDailyUsd[req.Provider]; ok && cap > 0 {
		spent := g.ledger.ProviderDailyCost(req.Provider, now)
		if spent+req.EstimatedCostUsd > cap {
			return Decision{Level: LevelPerProviderDaily, Reason: fmt.Sprintf(
				"per-provider daily cap exceeded for %s: %.4f + %.4f > cap %.4f",
				req.Provider, spent, req.EstimatedCostUsd, cap)}
		}
	}

	return Decision{Allowed: true}
}

// ForceConservativeConfig carries the cost-control escalation knob from
// SPEC_FULL.md's supplemental features: once weekly spend crosses
// ForceAtWeeklyUsagePct of the weekly cap, ShouldForceConservative reports
// true so the Phase Executor can steer its SCAN, PLAN and EVAL resolutions
// to the cheapest provider regardless of the router's normal
// primary/fallback order. Grounded on the teacher's
// dispatch/cost_control.go shouldForceSparkTierNow.
type ForceConservativeConfig struct {
	ForceAtWeeklyUsagePct float64
}

// ShouldForceConservative reports whether weekly usage has crossed the
// configured escalation threshold, and why.
func (g *Guard) ShouldForceConservative(cc ForceConservativeConfig) (bool, string) {
	if cc.ForceAtWeeklyUsagePct <= 0 {
		return false, ""
	}
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()
	if cfg.WeeklyUsd <= 0 {
		return false, ""
	}
	usagePct := g.ledger.WeeklyCost(g.now()) / cfg.WeeklyUsd * 100
	if usagePct >= cc.ForceAtWeeklyUsagePct {
		return true, fmt.Sprintf("weekly usage %.1f%% >= %.1f%%", usagePct, cc.ForceAtWeeklyUsagePct)
	}
	return false, ""
}

package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/cortex-work/engine/internal/model"
)

func TestNewCycleSummaryReadsLedgerTotals(t *testing.T) {
	l := New()
	now := time.Now()
	l.Record(rec("openai", "", "scan", 1.0, now))

	cycle := model.Cycle{ID: "cycle-1", Number: 3, State: model.CycleRunning, TotalCostUsd: 1.0, TasksCreated: 2, TasksCompleted: 1, StartedAt: now}

	summary := NewCycleSummary(cycle, l)
	if summary.CycleNumber != 3 {
		t.Fatalf("CycleNumber = %d, want 3", summary.CycleNumber)
	}
	if summary.DailyCostUsd != 1.0 {
		t.Fatalf("DailyCostUsd = %v, want 1.0", summary.DailyCostUsd)
	}
	if summary.WeeklyCostUsd != 1.0 {
		t.Fatalf("WeeklyCostUsd = %v, want 1.0", summary.WeeklyCostUsd)
	}
}

func TestCycleSummaryStringIncludesKeyFields(t *testing.T) {
	summary := CycleSummary{
		CycleNumber: 5, State: "running", TotalCostUsd: 2.5,
		DailyCostUsd: 3.0, WeeklyCostUsd: 10.0,
		TasksCreated: 4, TasksCompleted: 2, StartedAt: time.Now(),
	}

	out := summary.String()
	for _, want := range []string{"Cycle Summary", "`5`", "running", "2 completed / 4 created", "$2.5000", "$3.0000", "$10.0000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("String() = %q, missing %q", out, want)
		}
	}
}

func TestCycleSummaryStringOmitsCompletedWhenNil(t *testing.T) {
	summary := CycleSummary{CycleNumber: 1, StartedAt: time.Now()}
	if strings.Contains(summary.String(), "Completed") {
		t.Fatal("expected no Completed line when CompletedAt is nil")
	}
}

package ledger

import (
	"testing"
	"time"

	"github.com/cortex-work/engine/internal/model"
)

func rec(provider string, taskID string, phase string, cost float64, at time.Time) model.CostRecord {
	return model.CostRecord{
		Timestamp: at,
		Phase:     phase,
		TaskID:    taskID,
		Provider:  provider,
		CostUsd:   cost,
	}
}

func TestEmptyLedgerReturnsZero(t *testing.T) {
	l := New()
	if got := l.Total(); got != 0 {
		t.Fatalf("Total() = %v, want 0", got)
	}
	if got := l.CostForTask("missing"); got != 0 {
		t.Fatalf("CostForTask() = %v, want 0", got)
	}
	if got := l.CostForProvider("openai", time.Now()); got != 0 {
		t.Fatalf("CostForProvider() = %v, want 0", got)
	}
}

func TestCostForTaskExcludesRecordsWithoutTaskID(t *testing.T) {
	l := New()
	now := time.Now()
	l.Record(rec("openai", "t1", "build", 1.0, now))
	l.Record(rec("openai", "", "scan", 2.0, now))

	if got := l.CostForTask("t1"); got != 1.0 {
		t.Fatalf("CostForTask(t1) = %v, want 1.0", got)
	}
	if got := l.Total(); got != 3.0 {
		t.Fatalf("Total() = %v, want 3.0", got)
	}
}

func TestSumLaw(t *testing.T) {
	l := New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		l.Record(rec("openai", "", "scan", 1.0, now.Add(-time.Duration(i)*time.Hour)))
	}
	if got := l.CostSince(now.Add(-2 * time.Hour)); got > l.Total() {
		t.Fatalf("CostSince(%v) = %v exceeds Total() = %v", now, got, l.Total())
	}
}

func TestTaskIsolation(t *testing.T) {
	l := New()
	now := time.Now()
	l.Record(rec("openai", "a", "build", 3.0, now))
	l.Record(rec("openai", "b", "build", 4.0, now))
	l.Record(rec("openai", "", "scan", 1.0, now))

	if got := l.CostForTask("a") + l.CostForTask("b"); got > l.Total() {
		t.Fatalf("CostForTask(a)+CostForTask(b) = %v exceeds Total() = %v", got, l.Total())
	}
}

func TestDailyCostUsesUTCMidnight(t *testing.T) {
	l := New()
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	yesterday := now.Add(-20 * time.Hour)
	l.Record(rec("openai", "", "scan", 5.0, yesterday))
	l.Record(rec("openai", "", "scan", 2.0, now))

	if got := l.DailyCost(now); got != 2.0 {
		t.Fatalf("DailyCost() = %v, want 2.0", got)
	}
}

func TestWeeklyCostIsRolling(t *testing.T) {
	l := New()
	now := time.Now()
	l.Record(rec("openai", "", "scan", 5.0, now.Add(-8*24*time.Hour)))
	l.Record(rec("openai", "", "scan", 3.0, now.Add(-1*24*time.Hour)))

	if got := l.WeeklyCost(now); got != 3.0 {
		t.Fatalf("WeeklyCost() = %v, want 3.0", got)
	}
}

func TestProviderDailyCost(t *testing.T) {
	l := New()
	now := time.Now()
	l.Record(rec("openai", "", "scan", 5.0, now))
	l.Record(rec("gemini", "", "scan", 7.0, now))

	if got := l.ProviderDailyCost("openai", now); got != 5.0 {
		t.Fatalf("ProviderDailyCost(openai) = %v, want 5.0", got)
	}
}

func TestGetRecordsIsDefensiveCopy(t *testing.T) {
	l := New()
	l.Record(rec("openai", "", "scan", 1.0, time.Now()))

	records := l.GetRecords()
	records[0].CostUsd = 999

	if got := l.Total(); got != 1.0 {
		t.Fatalf("Total() = %v after external mutation, want 1.0 (ledger must not alias internal slice)", got)
	}
}

func TestLoadRecordsRoundTrip(t *testing.T) {
	l := New()
	now := time.Now()
	l.Record(rec("openai", "t1", "build", 1.5, now))
	l.Record(rec("gemini", "t2", "scan", 2.5, now))

	snapshot := l.GetRecords()

	l2 := New()
	l2.LoadRecords(snapshot)

	if got, want := l2.Total(), l.Total(); got != want {
		t.Fatalf("round-tripped Total() = %v, want %v", got, want)
	}
	if got, want := len(l2.GetRecords()), len(snapshot); got != want {
		t.Fatalf("round-tripped record count = %d, want %d", got, want)
	}
}

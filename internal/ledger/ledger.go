// Package ledger implements the in-memory, append-only cost record store
// that the Budget Guard reads to admit or reject calls.
package ledger

import (
	"sync"
	"time"

	"github.com/cortex-work/engine/internal/model"
)

// Ledger is an append-only record of every billable call, with filtered
// aggregation queries. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records []model.CostRecord
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{}
}

// Record appends a cost record. No deduplication, no ordering requirement.
func (l *Ledger) Record(rec model.CostRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Total returns the sum of every record ever appended.
func (l *Ledger) Total() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, r := range l.records {
		sum += r.CostUsd
	}
	return sum
}

// CostSince returns the sum of records with timestamp >= since.
func (l *Ledger) CostSince(since time.Time) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, r := range l.records {
		if !r.Timestamp.Before(since) {
			sum += r.CostUsd
		}
	}
	return sum
}

// CostForTask returns the sum of records charged against a given task.
// Records without a taskID are excluded.
func (l *Ledger) CostForTask(taskID string) float64 {
	if taskID == "" {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, r := range l.records {
		if r.TaskID == taskID {
			sum += r.CostUsd
		}
	}
	return sum
}

// CostForPhase returns the sum of records charged against a given phase.
func (l *Ledger) CostForPhase(phase string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, r := range l.records {
		if r.Phase == phase {
			sum += r.CostUsd
		}
	}
	return sum
}

// CostForProvider returns the sum of records for a provider since the given time.
func (l *Ledger) CostForProvider(provider string, since time.Time) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum float64
	for _, r := range l.records {
		if r.Provider == provider && !r.Timestamp.Before(since) {
			sum += r.CostUsd
		}
	}
	return sum
}

// UTCMidnightToday returns today's midnight in UTC. Daily windows use UTC
// midnight rather than local time so dailyCost/providerDailyCost agree
// regardless of process timezone (see DESIGN.md's Open Question decision).
func UTCMidnightToday(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyCost returns cost since UTC midnight today.
func (l *Ledger) DailyCost(now time.Time) float64 {
	return l.CostSince(UTCMidnightToday(now))
}

// WeeklyCost returns cost over the rolling 7 days ending now.
func (l *Ledger) WeeklyCost(now time.Time) float64 {
	return l.CostSince(now.Add(-7 * 24 * time.Hour))
}

// ProviderDailyCost returns a provider's cost since UTC midnight today.
func (l *Ledger) ProviderDailyCost(provider string, now time.Time) float64 {
	return l.CostForProvider(provider, UTCMidnightToday(now))
}

// GetRecords returns a defensive copy of all records.
func (l *Ledger) GetRecords() []model.CostRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.CostRecord, len(l.records))
	copy(out, l.records)
	return out
}

// LoadRecords replaces the internal record set, e.g. after a durable
// restore from the Store.
func (l *Ledger) LoadRecords(records []model.CostRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make([]model.CostRecord, len(records))
	copy(l.records, records)
}
